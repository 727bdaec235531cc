// Package deploy defines the winner-deployment collaborator. The engine
// decides when a winning variant should roll out; how a prompt or strategy
// variant actually reaches production belongs to the subscriber on the other
// side of the hook.
package deploy

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pitchlab/pitchlab/pkg/experiment"
)

// Deployer rolls out a winning variant for a completed experiment.
type Deployer interface {
	DeployVariant(ctx context.Context, experimentType experiment.Type, variant *experiment.Variant) error
}

// Func adapts a plain function into a Deployer.
type Func func(ctx context.Context, experimentType experiment.Type, variant *experiment.Variant) error

// DeployVariant implements Deployer.
func (f Func) DeployVariant(ctx context.Context, experimentType experiment.Type, variant *experiment.Variant) error {
	if f == nil {
		return nil
	}
	return f(ctx, experimentType, variant)
}

// Publisher is the subset of the message bus the bus-backed deployer needs.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// DefaultSubjectPrefix is the subject namespace for deployment announcements.
const DefaultSubjectPrefix = "pitchlab.deploy"

// announcement is the wire payload published for each winner rollout.
type announcement struct {
	ExperimentType string         `json:"experiment_type"`
	VariantID      string         `json:"variant_id"`
	VariantName    string         `json:"variant_name"`
	Content        map[string]any `json:"content,omitempty"`
	DeployedAt     time.Time      `json:"deployed_at"`
}

// BusDeployer publishes winner rollouts to a message bus, one subject per
// experiment type (e.g. "pitchlab.deploy.prompt_variant"), so external
// rollout tooling can subscribe selectively.
type BusDeployer struct {
	publisher     Publisher
	subjectPrefix string
}

// NewBusDeployer constructs a deployer publishing on the given bus.
func NewBusDeployer(publisher Publisher, subjectPrefix string) *BusDeployer {
	if subjectPrefix == "" {
		subjectPrefix = DefaultSubjectPrefix
	}
	return &BusDeployer{publisher: publisher, subjectPrefix: subjectPrefix}
}

// DeployVariant announces the winning variant on the type-scoped subject.
func (d *BusDeployer) DeployVariant(ctx context.Context, experimentType experiment.Type, variant *experiment.Variant) error {
	if d == nil || d.publisher == nil {
		return fmt.Errorf("deployer has no publisher")
	}
	if variant == nil {
		return fmt.Errorf("variant is nil")
	}
	payload, err := json.Marshal(announcement{
		ExperimentType: string(experimentType),
		VariantID:      variant.ID,
		VariantName:    variant.Name,
		Content:        variant.Content,
		DeployedAt:     time.Now(),
	})
	if err != nil {
		return fmt.Errorf("marshal deployment: %w", err)
	}
	subject := d.subjectPrefix + "." + string(experimentType)
	if err := d.publisher.Publish(ctx, subject, payload); err != nil {
		return fmt.Errorf("publish deployment: %w", err)
	}
	return nil
}
