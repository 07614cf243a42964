package models

// Finding source identifiers.
const (
	SourceScanner  = "scanner"
	SourceAnalysis = "analysis"
)

// Finding is a single reported vulnerability instance, independent of which
// backend produced it.
type Finding struct {
	Name        string     `json:"name"`
	Risk        RiskLevel  `json:"risk"`
	Description string     `json:"description"`
	Solution    string     `json:"solution"`
	References  []string   `json:"references"`
	Instances   []Instance `json:"instances"`
	CWEID       string     `json:"cwe_id,omitempty"`
	CVSSScore   *float64   `json:"cvss_score,omitempty"`
	Source      string     `json:"source,omitempty"` // scanner|analysis
}

// Instance locates one occurrence of a finding. Scanner alerts carry URL data,
// analysis findings carry file/line/code.
type Instance struct {
	URL      string `json:"url,omitempty"`
	Method   string `json:"method,omitempty"`
	Param    string `json:"param,omitempty"`
	Evidence string `json:"evidence,omitempty"`
	File     string `json:"file,omitempty"`
	Line     string `json:"line,omitempty"`
	Code     string `json:"code,omitempty"`
}

// Clone returns a deep copy of f.
func (f Finding) Clone() Finding {
	out := f
	if f.References != nil {
		out.References = append([]string(nil), f.References...)
	}
	if f.Instances != nil {
		out.Instances = append([]Instance(nil), f.Instances...)
	}
	if f.CVSSScore != nil {
		v := *f.CVSSScore
		out.CVSSScore = &v
	}
	return out
}

// CloneFindings deep-copies a slice of findings. A nil slice stays nil.
func CloneFindings(in []Finding) []Finding {
	if in == nil {
		return nil
	}
	out := make([]Finding, len(in))
	for i, f := range in {
		out[i] = f.Clone()
	}
	return out
}
