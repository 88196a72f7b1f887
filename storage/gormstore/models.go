package gormstore

import (
	"time"

	"gorm.io/datatypes"

	"github.com/mengeric/finsync/storage"
)

// organizationModel 组织表。
type organizationModel struct {
	ID           uint      `gorm:"primaryKey"`
	RefKey       string    `gorm:"column:ref_key;uniqueIndex;type:varchar(36);not null"`
	Code         string    `gorm:"column:code;type:varchar(50)"`
	Name         string    `gorm:"column:name;type:varchar(255)"`
	INN          string    `gorm:"column:inn;type:varchar(12);index"`
	DeletionMark bool      `gorm:"column:deletion_mark;default:false"`
	CreatedAt    time.Time `gorm:"autoCreateTime"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime"`
}

func (organizationModel) TableName() string { return "organizations" }

// categoryModel 现金流项目表。
type categoryModel struct {
	ID        uint      `gorm:"primaryKey"`
	RefKey    string    `gorm:"column:ref_key;uniqueIndex;type:varchar(36);not null"`
	Code      string    `gorm:"column:code;type:varchar(50)"`
	Name      string    `gorm:"column:name;type:varchar(255)"`
	ParentKey string    `gorm:"column:parent_key;type:varchar(36);index"`
	IsFolder  bool      `gorm:"column:is_folder;default:false"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (categoryModel) TableName() string { return "categories" }

// documentModel 入账单据表。
type documentModel struct {
	ID              uint      `gorm:"primaryKey"`
	RefKey          string    `gorm:"column:ref_key;uniqueIndex;type:varchar(36);not null"`
	Number          string    `gorm:"column:number;type:varchar(50)"`
	Date            time.Time `gorm:"column:date;index"`
	OrganizationKey string    `gorm:"column:organization_key;type:varchar(36);index"`
	CategoryKey     string    `gorm:"column:category_key;type:varchar(36);index"`
	Counterparty    string    `gorm:"column:counterparty;type:varchar(255)"`
	Purpose         string    `gorm:"column:purpose;type:text"`
	AmountMinor     int64     `gorm:"column:amount_minor"`
	Posted          bool      `gorm:"column:posted;default:false"`
	CreatedAt       time.Time `gorm:"autoCreateTime"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime"`
}

func (documentModel) TableName() string { return "documents" }

// archiveModel 任务归档表。
type archiveModel struct {
	TaskID      string         `gorm:"column:task_id;primaryKey;type:varchar(36)"`
	TaskType    string         `gorm:"column:task_type;index;type:varchar(64)"`
	Status      string         `gorm:"column:status;index;type:varchar(20)"`
	Total       int            `gorm:"column:total"`
	Processed   int            `gorm:"column:processed"`
	Message     string         `gorm:"column:message;type:text"`
	Error       string         `gorm:"column:error;type:text"`
	Result      datatypes.JSON `gorm:"column:result"`
	Metadata    datatypes.JSON `gorm:"column:metadata"`
	CreatedAt   time.Time      `gorm:"column:created_at"`
	StartedAt   *time.Time     `gorm:"column:started_at"`
	CompletedAt *time.Time     `gorm:"column:completed_at;index"`
	ArchivedAt  time.Time      `gorm:"column:archived_at;autoUpdateTime"`
}

func (archiveModel) TableName() string { return "task_archive" }

// Models 需要迁移的全部模型。
func Models() []any {
	return []any{&organizationModel{}, &categoryModel{}, &documentModel{}, &archiveModel{}}
}

func orgFrom(m organizationModel) storage.Organization {
	return storage.Organization{RefKey: m.RefKey, Code: m.Code, Name: m.Name, INN: m.INN, DeletionMark: m.DeletionMark}
}

func catFrom(m categoryModel) storage.Category {
	return storage.Category{RefKey: m.RefKey, Code: m.Code, Name: m.Name, ParentKey: m.ParentKey, IsFolder: m.IsFolder}
}

func docFrom(m documentModel) storage.Document {
	return storage.Document{RefKey: m.RefKey, Number: m.Number, Date: m.Date, OrganizationKey: m.OrganizationKey,
		CategoryKey: m.CategoryKey, Counterparty: m.Counterparty, Purpose: m.Purpose, AmountMinor: m.AmountMinor, Posted: m.Posted}
}

func toArchive(r *storage.ArchivedTask) archiveModel {
	return archiveModel{TaskID: r.ID, TaskType: r.Type, Status: r.Status, Total: r.Total, Processed: r.Processed,
		Message: r.Message, Error: r.Error, Result: datatypes.JSON(r.Result), Metadata: datatypes.JSON(r.Metadata),
		CreatedAt: r.CreatedAt, StartedAt: r.StartedAt, CompletedAt: r.CompletedAt}
}

func fromArchive(m archiveModel) storage.ArchivedTask {
	return storage.ArchivedTask{ID: m.TaskID, Type: m.TaskType, Status: m.Status, Total: m.Total, Processed: m.Processed,
		Message: m.Message, Error: m.Error, Result: []byte(m.Result), Metadata: []byte(m.Metadata),
		CreatedAt: m.CreatedAt, StartedAt: m.StartedAt, CompletedAt: m.CompletedAt}
}
