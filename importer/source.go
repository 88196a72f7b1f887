package importer

import (
	"context"
	"fmt"

	"github.com/mengeric/finsync/batch"
	"github.com/mengeric/finsync/client"
)

// PagedSource 以 $skip/$top 分页读取一个 OData 实体。
type PagedSource struct {
	ERP      client.ERP
	Entity   string
	Filter   string
	PageSize int
}

// Count 以 $count 作为阶段条数预估。
func (s *PagedSource) Count(ctx context.Context) (int, error) {
	return s.ERP.Count(ctx, s.Entity, s.Filter)
}

// Fetch 逐页读取，直到返回不足一页。
func (s *PagedSource) Fetch(ctx context.Context, yield func(batch.Item) error) error {
	size := s.PageSize
	if size <= 0 {
		size = 500
	}
	for skip := 0; ; {
		if err := ctx.Err(); err != nil {
			return err
		}
		recs, err := s.ERP.Fetch(ctx, s.Entity, s.Filter, skip, size)
		if err != nil {
			return fmt.Errorf("fetch %s skip=%d: %w", s.Entity, skip, err)
		}
		for _, rec := range recs {
			if err := yield(batch.Item(rec)); err != nil {
				return err
			}
		}
		if len(recs) < size {
			return nil
		}
		skip += len(recs)
	}
}
