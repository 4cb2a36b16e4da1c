package mainboilerplate

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	log "github.com/sirupsen/logrus"
)

// Must panics if |err| is non-nil, supplying |msg| and |extra| as
// formatter and fields of the generated panic.
func Must(err error, msg string, extra ...interface{}) {
	if err == nil {
		return
	}
	var f = log.Fields{"err": err}
	for i := 0; i+1 < len(extra); i += 2 {
		f[extra[i].(string)] = extra[i+1]
	}
	log.WithFields(f).Panic(msg)
}

// WriteMetrics writes a table of counter and gauge metrics gathered from
// |g| and having name |prefix|, such as "lakehouse_".
func WriteMetrics(w io.Writer, g prometheus.Gatherer, prefix string) error {
	var families, err = g.Gather()
	if err != nil {
		return err
	}
	var rows [][]string

	for _, fam := range families {
		if !strings.HasPrefix(fam.GetName(), prefix) {
			continue
		}
		for _, m := range fam.GetMetric() {
			var value float64
			switch fam.GetType() {
			case dto.MetricType_COUNTER:
				value = m.GetCounter().GetValue()
			case dto.MetricType_GAUGE:
				value = m.GetGauge().GetValue()
			default:
				continue
			}
			rows = append(rows, []string{fam.GetName(), formatLabels(m.GetLabel()), fmt.Sprintf("%g", value)})
		}
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i][0] < rows[j][0] })

	var table = tablewriter.NewWriter(w)
	table.Header("Metric", "Labels", "Value")
	for _, row := range rows {
		if err = table.Append(row); err != nil {
			return err
		}
	}
	return table.Render()
}

func formatLabels(pairs []*dto.LabelPair) string {
	var parts = make([]string, 0, len(pairs))
	for _, p := range pairs {
		parts = append(parts, p.GetName()+"="+p.GetValue())
	}
	return strings.Join(parts, ",")
}
