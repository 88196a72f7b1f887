package importer

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/mengeric/finsync/batch"
	"github.com/mengeric/finsync/storage"
)

// emptyRef ERP 中表示“空引用”的 GUID。
const emptyRef = "00000000-0000-0000-0000-000000000000"

// erpTimeLayout ERP 日期格式（无时区，按 UTC 解释）。
const erpTimeLayout = "2006-01-02T15:04:05"

func mapOrganization(it batch.Item) (*storage.Organization, error) {
	return &storage.Organization{
		RefKey:       ref(it, "Ref_Key"),
		Code:         str(it, "Code"),
		Name:         str(it, "Description"),
		INN:          str(it, "ИНН"),
		DeletionMark: flag(it, "DeletionMark"),
	}, nil
}

func mapCategory(it batch.Item) (*storage.Category, error) {
	return &storage.Category{
		RefKey:    ref(it, "Ref_Key"),
		Code:      str(it, "Code"),
		Name:      str(it, "Description"),
		ParentKey: ref(it, "Parent_Key"),
		IsFolder:  flag(it, "IsFolder"),
	}, nil
}

func mapDocument(it batch.Item) (*storage.Document, error) {
	date, err := time.Parse(erpTimeLayout, str(it, "Date"))
	if err != nil {
		return nil, fmt.Errorf("bad Date %q", str(it, "Date"))
	}
	amount, err := minorUnits(it["СуммаДокумента"])
	if err != nil {
		return nil, fmt.Errorf("bad СуммаДокумента: %w", err)
	}
	return &storage.Document{
		RefKey:          ref(it, "Ref_Key"),
		Number:          str(it, "Number"),
		Date:            date,
		OrganizationKey: ref(it, "Организация_Key"),
		CategoryKey:     ref(it, "СтатьяДвиженияДенежныхСредств_Key"),
		Counterparty:    ref(it, "Контрагент_Key"),
		Purpose:         str(it, "НазначениеПлатежа"),
		AmountMinor:     amount,
		Posted:          flag(it, "Posted"),
	}, nil
}

func str(it batch.Item, key string) string {
	switch v := it[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// refKey 记录身份；空引用 GUID 与缺失同等对待。
func refKey(it batch.Item) (string, bool) {
	k, ok := batch.KeyField("Ref_Key")(it)
	if !ok || k == emptyRef {
		return "", false
	}
	return k, true
}

// ref 引用字段，空引用归一为空串。
func ref(it batch.Item, key string) string {
	s := str(it, key)
	if s == emptyRef {
		return ""
	}
	return s
}

func flag(it batch.Item, key string) bool {
	switch v := it[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	default:
		return false
	}
}

// minorUnits 金额转最小货币单位（保留两位小数，四舍五入）。
func minorUnits(v any) (int64, error) {
	var f float64
	switch x := v.(type) {
	case nil:
		return 0, nil
	case json.Number:
		p, err := x.Float64()
		if err != nil {
			return 0, err
		}
		f = p
	case float64:
		f = x
	case int:
		f = float64(x)
	case int64:
		f = float64(x)
	case string:
		p, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(x), ",", "."), 64)
		if err != nil {
			return 0, err
		}
		f = p
	default:
		return 0, fmt.Errorf("unsupported amount type %T", v)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("invalid amount %v", f)
	}
	return int64(math.Round(f * 100)), nil
}

func outcome(c storage.Change) batch.Outcome {
	switch c {
	case storage.ChangeCreated:
		return batch.Created
	case storage.ChangeUpdated:
		return batch.Updated
	default:
		return batch.Skipped
	}
}
