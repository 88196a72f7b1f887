package finsync

import (
	"github.com/mengeric/finsync/client"
	"github.com/mengeric/finsync/processor"
	"github.com/mengeric/finsync/relay"
	"github.com/mengeric/finsync/storage"
	"github.com/mengeric/finsync/task"
)

// Option App 可选项，用于替换按配置构造的组件（主要供测试与嵌入使用）。
type Option func(*appConfig)

type appConfig struct {
	store  storage.Store
	erp    client.ERP
	sinks  []relay.Sink
	reg    []task.Option
	extra  map[string]processor.Processor
	listen string
}

// WithStore 使用外部存储，跳过数据库连接与迁移。
func WithStore(s storage.Store) Option { return func(c *appConfig) { c.store = s } }

// WithERP 使用外部 ERP 客户端。
func WithERP(e client.ERP) Option { return func(c *appConfig) { c.erp = e } }

// WithSinks 追加推送目标。
func WithSinks(s ...relay.Sink) Option { return func(c *appConfig) { c.sinks = append(c.sinks, s...) } }

// WithRegistryOptions 透传任务登记表可选项（时钟、ID 生成器等）。
func WithRegistryOptions(opts ...task.Option) Option {
	return func(c *appConfig) { c.reg = append(c.reg, opts...) }
}

// WithProcessor 注册额外的任务类型。
func WithProcessor(name string, p processor.Processor) Option {
	return func(c *appConfig) {
		if c.extra == nil {
			c.extra = map[string]processor.Processor{}
		}
		c.extra[name] = p
	}
}

// WithListenAddr 覆盖配置中的监听地址，"127.0.0.1:0" 表示随机端口。
func WithListenAddr(addr string) Option { return func(c *appConfig) { c.listen = addr } }
