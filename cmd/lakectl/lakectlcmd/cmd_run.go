package lakectlcmd

import (
	"context"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	mbp "go.lakehouse.dev/core/mainboilerplate"
)

type cmdRun struct {
	Metrics bool `long:"metrics" description:"Print lakehouse metrics after running the script"`
	Args    struct {
		Script string `positional-arg-name:"SCRIPT" description:"Path of the script to run. Use '-' for stdin"`
	} `positional-args:"yes" required:"yes"`
}

func init() {
	CommandRegistry.AddCommand("", "run", "Run a script of statements against the host", `
Run a YAML script of statements within a single host session.

Each step names an op, and the arguments of that op:

>    session: demo
>    steps:
>      - op: create_tablespace
>        name: lake
>        with: {protocol: s3, bucket: my-lake-bucket, region: us-east-1}
>      - op: begin
>      - op: create_table
>        table: events
>        columns: [id, body]
>        using: iceberg
>        tablespace: lake
>        with: {compression: zstd}
>      - op: savepoint
>        name: a
>      - op: insert
>        table: events
>        rows: [["1", "hello"]]
>      - op: rollback_to
>        name: a
>      - op: scan
>        table: events
>        expect: {rows: 0}
>      - op: commit

Steps may carry an expectation of their outcome: an error SQLSTATE, a
number of rows, or whether the storage of the step's table exists.
The script fails at the first step which doesn't meet its expectation.
`, &cmdRun{})
}

func (cmd *cmdRun) Execute([]string) error {
	startup()

	var b, err = readInput(cmd.Args.Script)
	mbp.Must(err, "failed to read script", "path", cmd.Args.Script)
	script, err := ParseScript(b)
	mbp.Must(err, "failed to parse script", "path", cmd.Args.Script)

	var ctx = context.Background()
	var h, db = openHost(ctx)
	defer db.Close()

	if err = RunScript(ctx, h, script, os.Stdout); err != nil {
		log.WithField("err", err).Error("script failed")
	}
	if cmd.Metrics {
		mbp.Must(mbp.WriteMetrics(os.Stdout, prometheus.DefaultGatherer, "lakehouse_"), "failed to write metrics")
	}
	return err
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}
