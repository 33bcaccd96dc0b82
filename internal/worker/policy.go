package worker

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/masoudkazak/ai-sms-guard/internal/pipeline"
)

// policyFile is the on-disk shape of the optional DLQ routing policy
// file, parsed the same way pep-agent/internal/config reads its
// mapping.yaml.
type policyFile struct {
	DLQAdvisorPolicy string `yaml:"dlq_advisor_policy"`
}

// LoadDLQPolicy reads the DLQ advisor policy from a YAML file. An empty
// path, a missing file, or a blank/unrecognized value all resolve to
// pipeline.SkipAdvisor — the policy file is an opt-in override, not a
// required deployment artifact.
func LoadDLQPolicy(path string) (pipeline.DLQAdvisorPolicy, error) {
	if path == "" {
		return pipeline.SkipAdvisor, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return pipeline.SkipAdvisor, nil
		}
		return "", fmt.Errorf("read dlq policy file: %w", err)
	}

	var pf policyFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return "", fmt.Errorf("parse dlq policy file: %w", err)
	}

	switch pipeline.DLQAdvisorPolicy(pf.DLQAdvisorPolicy) {
	case pipeline.ConsultAdvisor:
		return pipeline.ConsultAdvisor, nil
	default:
		return pipeline.SkipAdvisor, nil
	}
}
