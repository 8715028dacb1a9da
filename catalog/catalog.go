package catalog

import (
	"encoding/json"
	"os"

	"github.com/nkashyap/hireflow/logger"
	"github.com/nkashyap/hireflow/model"
	"go.uber.org/zap"
)

// Catalog is the static registry of workflow definitions. Definitions are
// loaded once at process start and never mutated afterwards, so step
// snapshots taken by running executions stay a faithful historical record.
type Catalog struct {
	definitions map[string]*model.WorkflowDefinition
}

func New(definitions []model.WorkflowDefinition) (*Catalog, error) {
	byName := make(map[string]*model.WorkflowDefinition, len(definitions))
	for i := range definitions {
		def := definitions[i]
		if err := def.Validate(); err != nil {
			return nil, err
		}
		for _, step := range def.Steps {
			if step.RequiredHumanApproval && step.NumberOfApprovalsNeeded <= 0 {
				logger.Warn("step requires approval but quorum is zero, treating as no approval needed",
					zap.String("workflow", def.Name), zap.Int("step", step.OrderNumber))
			}
		}
		byName[def.Name] = &def
	}
	return &Catalog{definitions: byName}, nil
}

// LoadFile reads workflow definitions from a JSON file.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var definitions []model.WorkflowDefinition
	if err := json.Unmarshal(data, &definitions); err != nil {
		return nil, err
	}
	logger.Info("loaded workflow definitions", zap.String("file", path), zap.Int("count", len(definitions)))
	return New(definitions)
}

func (c *Catalog) DefinitionFor(workflowType string) (*model.WorkflowDefinition, error) {
	def, ok := c.definitions[workflowType]
	if !ok {
		return nil, model.UnknownWorkflowTypeError{WorkflowType: workflowType}
	}
	return def, nil
}
