package cli

import (
	"fmt"
	"io"
	"math"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fpang/vehicle-claim-estimator/internal/report"
)

// FormatDurationShort formats a duration in a short format (M:SS or H:MM:SS).
func FormatDurationShort(d time.Duration) string {
	totalSeconds := int(d.Seconds())
	hours := totalSeconds / 3600
	minutes := (totalSeconds % 3600) / 60
	seconds := totalSeconds % 60

	if hours > 0 {
		return fmt.Sprintf("%d:%02d:%02d", hours, minutes, seconds)
	}
	return fmt.Sprintf("%d:%02d", minutes, seconds)
}

// FormatMoney renders amount with thousands separators and the currency
// code, e.g. "NGN 1,250,000". Fractions are shown only when present.
func FormatMoney(amount float64, currency string) string {
	neg := amount < 0
	amount = math.Abs(amount)
	whole := math.Floor(amount)
	frac := math.Round((amount - whole) * 100)
	if frac == 100 {
		whole++
		frac = 0
	}

	digits := fmt.Sprintf("%.0f", whole)
	var b strings.Builder
	for i, c := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(c)
	}
	s := b.String()
	if frac > 0 {
		s += fmt.Sprintf(".%02.0f", frac)
	}
	if neg {
		s = "-" + s
	}
	if currency == "" {
		return s
	}
	return currency + " " + s
}

// FormatReport writes a human-readable damage report to w.
func FormatReport(w io.Writer, r *report.DamageReport) error {
	if r == nil {
		_, err := fmt.Fprintln(w, "No report.")
		return err
	}

	fmt.Fprintf(w, "Vehicle:     %s\n", r.VehicleType)
	fmt.Fprintf(w, "Total:       %s\n", FormatMoney(r.TotalEstimatedCost, r.Currency))
	fmt.Fprintf(w, "Payout:      %s\n", r.PayoutEligibility)
	fmt.Fprintf(w, "Confidence:  %.0f%%\n", r.ConfidencePercent())
	fmt.Fprintf(w, "Labor:       %.1f h\n\n", r.LaborHours())

	if len(r.Parts) == 0 {
		fmt.Fprintln(w, "No damaged parts identified.")
	} else {
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "PART\tDAMAGE\tSEVERITY\tACTION\tCOST\tLABOR")
		for _, p := range r.Parts {
			fmt.Fprintf(tw, "%s\t%s\t%.0f/10\t%s\t%s\t%.1f h\n",
				p.PartName, p.DamageType, p.Severity, p.Action, FormatMoney(p.EstimatedCost, r.Currency), p.LaborHours)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	_, err := fmt.Fprintf(w, "\n%s\n", strings.TrimSpace(r.Summary))
	return err
}
