package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/CosmoTheDev/zapmcp/internal/config"
	"github.com/CosmoTheDev/zapmcp/internal/profiles"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Interactive setup wizard",
	Long: `Walks through the settings zapmcp needs to run:

  - the ZAP daemon API URL and key
  - the LLM analysis provider and its credentials

and writes them to ~/.zapmcp/config.json. Bundled scan profiles are copied
to ~/.zapmcp/profiles so they can be edited.`,
	RunE: runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	fmt.Println()
	fmt.Println(headerStyle.Render("  zapmcp · ZAP + LLM security scan orchestrator"))

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := config.EnsureDir(); err != nil {
		return fmt.Errorf("creating zapmcp directories: %w", err)
	}

	// --- Step 1: ZAP ---
	fmt.Println(headerStyle.Render("  Step 1/2 · ZAP daemon"))
	zapURL := cfg.ZAP.APIURL
	zapKey := cfg.ZAP.APIKey
	zapForm := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("ZAP API URL").
				Description("Where the ZAP daemon listens, e.g. http://127.0.0.1:8080").
				Value(&zapURL).
				Validate(func(s string) error {
					if !strings.HasPrefix(s, "http://") && !strings.HasPrefix(s, "https://") {
						return fmt.Errorf("must start with http:// or https://")
					}
					return nil
				}),
			huh.NewInput().
				Title("ZAP API key").
				Description("Leave blank if the daemon runs with api.disablekey=true.").
				EchoMode(huh.EchoModePassword).
				Value(&zapKey),
		),
	)
	if err := zapForm.Run(); err != nil {
		return err
	}
	cfg.ZAP.APIURL = strings.TrimSpace(zapURL)
	cfg.ZAP.APIKey = strings.TrimSpace(zapKey)

	// --- Step 2: analysis provider ---
	fmt.Println(headerStyle.Render("\n  Step 2/2 · Analysis provider"))
	provider := cfg.Analysis.Provider
	if provider == "" {
		provider = "local"
	}
	providerForm := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Which LLM analyses the target?").
				Options(
					huh.NewOption("Local model server (websocket)", "local"),
					huh.NewOption("Anthropic API", "anthropic"),
					huh.NewOption("Azure OpenAI", "azure"),
					huh.NewOption("None (scans will be refused)", "none"),
				).
				Value(&provider),
		),
	)
	if err := providerForm.Run(); err != nil {
		return err
	}
	cfg.Analysis.Provider = provider

	var (
		form  *huh.Form
		apply func()
	)
	switch provider {
	case "local":
		host := cfg.Analysis.LocalHost
		port := strconv.Itoa(cfg.Analysis.LocalPort)
		form = huh.NewForm(huh.NewGroup(
			huh.NewInput().Title("Model server host").Value(&host),
			huh.NewInput().Title("Model server port").Value(&port).
				Validate(func(s string) error {
					if n, err := strconv.Atoi(s); err != nil || n <= 0 || n > 65535 {
						return fmt.Errorf("must be a port number")
					}
					return nil
				}),
		))
		apply = func() {
			cfg.Analysis.LocalHost = strings.TrimSpace(host)
			cfg.Analysis.LocalPort, _ = strconv.Atoi(port)
		}
	case "anthropic":
		key := cfg.Analysis.AnthropicKey
		model := cfg.Analysis.Model
		form = huh.NewForm(huh.NewGroup(
			huh.NewInput().Title("Anthropic API key").EchoMode(huh.EchoModePassword).Value(&key),
			huh.NewInput().Title("Model").Value(&model),
		))
		apply = func() {
			cfg.Analysis.AnthropicKey = strings.TrimSpace(key)
			cfg.Analysis.Model = strings.TrimSpace(model)
		}
	case "azure":
		endpoint := cfg.Analysis.AzureEndpoint
		key := cfg.Analysis.AzureKey
		deployment := cfg.Analysis.AzureDeployment
		form = huh.NewForm(huh.NewGroup(
			huh.NewInput().Title("Azure OpenAI endpoint").Placeholder("https://<resource>.openai.azure.com").Value(&endpoint),
			huh.NewInput().Title("Azure OpenAI key").EchoMode(huh.EchoModePassword).Value(&key),
			huh.NewInput().Title("Deployment name").Value(&deployment),
		))
		apply = func() {
			cfg.Analysis.AzureEndpoint = strings.TrimSpace(endpoint)
			cfg.Analysis.AzureKey = strings.TrimSpace(key)
			cfg.Analysis.AzureDeployment = strings.TrimSpace(deployment)
		}
	}
	if form != nil {
		if err := form.Run(); err != nil {
			return err
		}
		apply()
	}

	path, err := config.ConfigPath(cfgFile)
	if err != nil {
		return err
	}
	if err := config.Save(cfg, cfgFile); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}
	if err := profiles.Init(profiles.DefaultDir()); err != nil {
		fmt.Println(warnStyle.Render("  Could not copy bundled profiles: " + err.Error()))
	}
	fmt.Println(successStyle.Render("\n  Saved " + path))
	fmt.Println(dimStyle.Render("  Next: zapmcp doctor, then zapmcp serve\n"))
	return nil
}
