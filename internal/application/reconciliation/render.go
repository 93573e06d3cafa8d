package reconciliation

import (
	"strings"
	"text/tabwriter"

	"github.com/erp/billing/internal/domain/credit"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// Render formats the report as a plain-text table with locale-grouped amounts.
func (r *Report) Render(tag language.Tag) string {
	p := message.NewPrinter(tag)
	amount := func(c credit.Credit) string {
		return p.Sprint(number.Decimal(c.Decimal().InexactFloat64(), number.Scale(2)))
	}

	var b strings.Builder
	p.Fprintf(&b, "Reconciliation %s .. %s\n", r.WindowStart.Format("2006-01-02 15:04"), r.WindowEnd.Format("2006-01-02 15:04"))
	p.Fprintf(&b, "Tenants compared: %d  Charged: %s  Debited: %s  Tolerance: %s\n",
		r.TenantsCompared, amount(r.TotalCharged), amount(r.TotalDebited), amount(r.Tolerance))

	if !r.HasDrift() {
		b.WriteString("No drift.\n")
		return b.String()
	}

	p.Fprintf(&b, "Drift records: %d\n", len(r.Records))
	w := tabwriter.NewWriter(&b, 0, 0, 2, ' ', tabwriter.AlignRight)
	w.Write([]byte("TENANT\tCHARGED\tDEBITED\tDELTA\t\n"))
	for _, rec := range r.Records {
		w.Write([]byte(rec.TenantID + "\t" + amount(rec.AggregatedCharge) + "\t" + amount(rec.LedgerDebited) + "\t" + amount(rec.Delta) + "\t\n"))
	}
	_ = w.Flush()
	return b.String()
}
