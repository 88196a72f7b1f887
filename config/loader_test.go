package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

const sampleYAML = `
http:
  listen: 127.0.0.1:9090
database:
  driver: postgres
  dsn: postgres://finsync@localhost/finsync
erp:
  baseURL: http://erp.local/odata/standard.odata
  timeout: 15s
import:
  batchSize: 200
  itemTimeout: 45s
tasks:
  retention: 2h
  syncSpec: "0 */2 * * *"
`

func writeFile(t *testing.T, body string) string {
	p := filepath.Join(t.TempDir(), "finsync.yaml")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestLoad(t *testing.T) {
	Convey("Load should parse yaml, durations and fill defaults", t, func() {
		c, err := Load(writeFile(t, sampleYAML))
		So(err, ShouldBeNil)
		So(c.HTTP.Listen, ShouldEqual, "127.0.0.1:9090")
		So(c.Database.Driver, ShouldEqual, "postgres")
		So(c.ERP.Timeout, ShouldEqual, 15*time.Second)
		So(c.Import.BatchSize, ShouldEqual, 200)
		So(c.Import.ItemTimeout, ShouldEqual, 45*time.Second)
		So(c.Tasks.Retention, ShouldEqual, 2*time.Hour)
		So(c.Tasks.SyncSpec, ShouldEqual, "0 */2 * * *")

		// 默认值
		So(c.Import.ReportEvery, ShouldEqual, 50)
		So(c.Import.MaxErrors, ShouldEqual, 10)
		So(c.ERP.PageSize, ShouldEqual, 500)
		So(c.Tasks.CleanupSpec, ShouldEqual, "@every 10m")
		So(c.Tasks.SyncWindow, ShouldEqual, 72*time.Hour)
		So(c.Log.Backend, ShouldEqual, "slog")
	})

	Convey("environment should override secrets", t, func() {
		t.Setenv("FINSYNC_ERP_PASSWORD", "s3cret")
		t.Setenv("FINSYNC_KAFKA_BROKERS", "k1:9092,k2:9092")
		c, err := Load(writeFile(t, sampleYAML))
		So(err, ShouldBeNil)
		So(c.ERP.Password, ShouldEqual, "s3cret")
		So(c.Kafka.Brokers, ShouldResemble, []string{"k1:9092", "k2:9092"})
	})

	Convey("missing or broken files should return error", t, func() {
		_, err := Load(filepath.Join(t.TempDir(), "none.yaml"))
		So(err, ShouldNotBeNil)
		_, err = Load(writeFile(t, "http: [oops"))
		So(err, ShouldNotBeNil)
	})
}

func TestDefaults(t *testing.T) {
	Convey("empty config gets a runnable sqlite setup", t, func() {
		var c Config
		c.WithDefaults()
		So(c.Database.Driver, ShouldEqual, "sqlite")
		So(c.Database.DSN, ShouldNotBeEmpty)
		So(c.Import.BatchSize, ShouldEqual, 500)
		So(c.Import.ItemTimeout, ShouldEqual, 90*time.Second)
		So(c.Tasks.MaxConcurrent, ShouldEqual, 4)
	})
}
