package ai

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/CosmoTheDev/zapmcp/models"
)

const analysisPromptTemplate = `Analyze this code for security vulnerabilities:

%s

Provide findings in JSON format with the following structure:
{
    "vulnerabilities": [
        {
            "name": "Vulnerability name",
            "risk": "High/Medium/Low",
            "description": "Detailed description",
            "solution": "Suggested fix",
            "references": ["Reference links"],
            "instances": [
                {
                    "file": "filename",
                    "line": "line number",
                    "code": "vulnerable code snippet"
                }
            ],
            "cwe_id": "CWE identifier",
            "cvss_score": "CVSS score"
        }
    ],
    "summary": {
        "total_vulnerabilities": "number",
        "risk_distribution": {
            "high": "count",
            "medium": "count",
            "low": "count"
        },
        "top_issues": ["list of top issues"]
    }
}

Focus on:
1. Security vulnerabilities
2. Code quality issues
3. Best practices violations
4. Potential backdoors
5. Authentication/Authorization issues
6. Data validation problems
7. Cryptographic issues
8. Configuration problems

Respond ONLY with valid JSON, no markdown code blocks.`

// BuildPrompt wraps text in the analysis instructions.
func BuildPrompt(text string) string {
	return fmt.Sprintf(analysisPromptTemplate, text)
}

type analysisPayload struct {
	Vulnerabilities json.RawMessage `json:"vulnerabilities"`
}

// vulnerability fields decode into pointers so an absent or null field can
// be told apart from an empty one.
type vulnerability struct {
	Name        *string     `json:"name"`
	Risk        *string     `json:"risk"`
	Description *string     `json:"description"`
	Solution    *string     `json:"solution"`
	References  *[]string   `json:"references"`
	Instances   *[]instance `json:"instances"`
	CWEID       flexString  `json:"cwe_id"`
	CVSSScore   *flexString `json:"cvss_score"`
}

// missing returns the first required field v lacks.
func (v vulnerability) missing() string {
	switch {
	case v.Name == nil:
		return "name"
	case v.Risk == nil:
		return "risk"
	case v.Description == nil:
		return "description"
	case v.Solution == nil:
		return "solution"
	case v.References == nil:
		return "references"
	case v.Instances == nil:
		return "instances"
	}
	return ""
}

type instance struct {
	File string     `json:"file"`
	Line flexString `json:"line"`
	Code string     `json:"code"`
	URL  string     `json:"url"`
}

// flexString accepts a JSON string or number. Models are inconsistent about
// quoting CWE ids, CVSS scores and line numbers.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*f = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// ParseFindings decodes a model reply into findings. Markdown code fences
// around the JSON are tolerated. A reply without a "vulnerabilities" key
// reports nothing found.
func ParseFindings(backend, raw string) ([]models.Finding, error) {
	body := stripFences(raw)
	if body == "" {
		return nil, &models.ParseError{Backend: backend, Reason: "empty response"}
	}

	var payload analysisPayload
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		return nil, &models.ParseError{Backend: backend, Reason: "invalid JSON", Err: err}
	}
	if payload.Vulnerabilities == nil {
		return []models.Finding{}, nil
	}
	var vulns []vulnerability
	if err := json.Unmarshal(payload.Vulnerabilities, &vulns); err != nil || vulns == nil {
		return nil, &models.ParseError{Backend: backend, Reason: `invalid "vulnerabilities" list`, Err: err}
	}

	findings := make([]models.Finding, 0, len(vulns))
	for i, v := range vulns {
		if field := v.missing(); field != "" {
			return nil, &models.ParseError{
				Backend: backend,
				Reason:  fmt.Sprintf("vulnerability %d is missing %q", i, field),
			}
		}
		f := models.Finding{
			Name:        strings.TrimSpace(*v.Name),
			Risk:        models.MapRisk(*v.Risk),
			Description: *v.Description,
			Solution:    *v.Solution,
			References:  *v.References,
			CWEID:       string(v.CWEID),
			Source:      models.SourceAnalysis,
		}
		for _, in := range *v.Instances {
			f.Instances = append(f.Instances, models.Instance{
				File: in.File,
				Line: string(in.Line),
				Code: in.Code,
				URL:  in.URL,
			})
		}
		if v.CVSSScore != nil {
			score, err := strconv.ParseFloat(strings.TrimSpace(string(*v.CVSSScore)), 64)
			if err != nil {
				return nil, &models.ParseError{
					Backend: backend,
					Reason:  fmt.Sprintf("vulnerability %d has a non-numeric cvss_score %q", i, string(*v.CVSSScore)),
					Err:     err,
				}
			}
			f.CVSSScore = &score
		}
		findings = append(findings, f)
	}
	return findings, nil
}

// stripFences removes a surrounding ```json ... ``` block if present.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = ""
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
