package client

import "fmt"

// Record OData 实体的一条记录，字段名保持 ERP 原样（如 Ref_Key）。
type Record = map[string]any

// page OData JSON 响应的外层包装。
type page struct {
	Value []Record `json:"value"`
}

// StatusError ERP 返回非 2xx。
type StatusError struct {
	Method string
	URL    string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s => %d: %s", e.Method, e.URL, e.Code, e.Body)
}
