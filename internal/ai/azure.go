package ai

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/ai/azopenai"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"

	"github.com/CosmoTheDev/zapmcp/internal/config"
	"github.com/CosmoTheDev/zapmcp/models"
)

// AzureProvider implements Analyzer using an Azure OpenAI chat deployment.
type AzureProvider struct {
	client       *azopenai.Client
	deploymentID string
	maxTokens    int32
	temperature  float32
}

// NewAzure creates an AzureProvider using key credentials from cfg.
func NewAzure(cfg config.AnalysisConfig) (*AzureProvider, error) {
	if cfg.AzureDeployment == "" {
		return nil, fmt.Errorf("azure analysis provider requires analysis.azure_deployment")
	}
	client, err := azopenai.NewClientWithKeyCredential(cfg.AzureEndpoint, azcore.NewKeyCredential(cfg.AzureKey), nil)
	if err != nil {
		return nil, fmt.Errorf("creating Azure OpenAI client: %w", err)
	}
	maxTokens := int32(cfg.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 1000
	}
	return &AzureProvider{
		client:       client,
		deploymentID: cfg.AzureDeployment,
		maxTokens:    maxTokens,
		temperature:  float32(cfg.Temperature),
	}, nil
}

func (a *AzureProvider) Name() string { return "azure" }

// IsAvailable reports whether the provider is configured. Azure exposes no
// free probe endpoint for a deployment, so reachability is only known on the
// first completion.
func (a *AzureProvider) IsAvailable(_ context.Context) bool {
	return a.client != nil && a.deploymentID != ""
}

// Analyze sends the analysis prompt to the deployment.
func (a *AzureProvider) Analyze(ctx context.Context, text string) ([]models.Finding, error) {
	resp, err := a.client.GetChatCompletions(
		ctx,
		azopenai.ChatCompletionsOptions{
			DeploymentName: to.Ptr(a.deploymentID),
			MaxTokens:      to.Ptr(a.maxTokens),
			Temperature:    to.Ptr(a.temperature),
			Messages: []azopenai.ChatRequestMessageClassification{
				&azopenai.ChatRequestUserMessage{
					Content: azopenai.NewChatRequestUserMessageContent(BuildPrompt(text)),
				},
			},
		},
		nil,
	)
	if err != nil {
		return nil, &models.BackendError{Backend: a.Name(), Op: "chat completions", Err: err}
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message == nil || resp.Choices[0].Message.Content == nil {
		return nil, &models.BackendError{Backend: a.Name(), Op: "chat completions", Err: fmt.Errorf("no completion received")}
	}
	return ParseFindings(a.Name(), *resp.Choices[0].Message.Content)
}
