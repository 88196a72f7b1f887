package importer

import (
	"context"
	"fmt"

	"github.com/mengeric/finsync/client"
)

// ProbeTaskType 连通性检查任务类型。
const ProbeTaskType = "erp_probe"

// Probe 检查 ERP 可达并返回各实体记录数。
type Probe struct{ erp client.ERP }

// NewProbe 构造。
func NewProbe(erp client.ERP) *Probe { return &Probe{erp: erp} }

// Init 无需初始化。
func (p *Probe) Init(ctx context.Context) error { return nil }

// Stop 无需清理。
func (p *Probe) Stop(ctx context.Context) error { return nil }

// Run 依次统计三个实体。
func (p *Probe) Run(ctx context.Context, taskID string, params map[string]any) (any, error) {
	out := map[string]int{}
	for _, entity := range []string{EntityOrganizations, EntityCategories, EntityDocuments} {
		n, err := p.erp.Count(ctx, entity, "")
		if err != nil {
			return nil, fmt.Errorf("count %s: %w", entity, err)
		}
		out[entity] = n
	}
	return out, nil
}
