// Package report prints problems and solutions as plain-text tables.
package report

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"drtdispatch/internal/opt"
	"drtdispatch/internal/problem"
)

// Mode selects how much of a solution is printed.
type Mode int

const (
	Concise Mode = iota
	Verbose
)

// Problem writes the problem summary table.
func Problem(w io.Writer, p *problem.Problem) error {
	counts := map[problem.JobKind]int{}
	for i := range p.Jobs {
		counts[p.Jobs[i].Kind]++
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "problem\t")
	fmt.Fprintln(tw, "indicator\tvalue")
	fmt.Fprintf(tw, "jobs\t%d\n", len(p.Jobs))
	fmt.Fprintf(tw, "services\t%d\n", counts[problem.Service])
	fmt.Fprintf(tw, "shipments\t%d\n", counts[problem.Shipment])
	fmt.Fprintf(tw, "breaks\t%d\n", counts[problem.Break])
	fmt.Fprintf(tw, "vehicles\t%d\n", len(p.Vehicles))
	fmt.Fprintf(tw, "fleetsize\t%s\n", p.Fleet)
	fmt.Fprintf(tw, "matrix size\t%d\n", p.Costs.Size())
	return tw.Flush()
}

// Solution writes the solution summary and, in Verbose mode, every route's
// schedule and the unassigned jobs with their reasons.
func Solution(w io.Writer, p *problem.Problem, res *opt.Result, mode Mode) error {
	best := res.Best
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "solution\t")
	fmt.Fprintln(tw, "indicator\tvalue")
	fmt.Fprintf(tw, "costs\t%.2f\n", best.Cost)
	fmt.Fprintf(tw, "route costs\t%.2f\n", best.RouteCost())
	fmt.Fprintf(tw, "vehicles\t%d\n", len(best.Routes))
	fmt.Fprintf(tw, "unassigned jobs\t%d\n", len(best.Unassigned))
	fmt.Fprintf(tw, "iterations\t%d\n", res.Stats.Iterations)
	fmt.Fprintf(tw, "stop\t%s\n", res.Stop)
	fmt.Fprintf(tw, "took\t%s\n", res.Duration)
	if err := tw.Flush(); err != nil {
		return err
	}
	if mode == Concise {
		return nil
	}

	fmt.Fprintln(w)
	tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "route\tvehicle\tactivity\tjob\tlocation\tarrTime\tendTime\tride\tcosts\t")
	for i, r := range best.Routes {
		st := r.RideTimes()
		fmt.Fprintf(tw, "%d\t%s\tstart\t-\t%d\tundef\t%.1f\t-\t0\t\n", i+1, r.VehicleID, p.Vehicles[r.Vehicle].Start, r.Start())
		for _, a := range r.Schedule() {
			loc := "-"
			if a.Location != problem.NoLocation {
				loc = fmt.Sprint(a.Location)
			}
			ride := "-"
			if a.Kind == opt.Delivery {
				if v, ok := st.Elapsed(a.Job); ok {
					ride = fmt.Sprintf("%.1f", v)
				}
			}
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%.1f\t%.1f\t%s\t\t\n",
				i+1, r.VehicleID, a.Kind, p.Jobs[a.Job].ID, loc, a.Arrival, a.Departure, ride)
		}
		veh := &p.Vehicles[r.Vehicle]
		if veh.ReturnToDepot {
			fmt.Fprintf(tw, "%d\t%s\tend\t-\t%d\t%.1f\tundef\t-\t%.2f\t\n", i+1, r.VehicleID, veh.End, r.End(), r.Cost())
		} else {
			fmt.Fprintf(tw, "%d\t%s\tend\t-\t-\t%.1f\tundef\t-\t%.2f\t\n", i+1, r.VehicleID, r.End(), r.Cost())
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(res.Unassigned) == 0 {
		return nil
	}
	fmt.Fprintln(w)
	un := append([]opt.UnassignedJob(nil), res.Unassigned...)
	sort.Slice(un, func(a, b int) bool { return un[a].JobID < un[b].JobID })
	tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "unassigned job\treason")
	for _, u := range un {
		fmt.Fprintf(tw, "%s\t%s\n", u.JobID, u.Reason)
	}
	return tw.Flush()
}

// History writes the best-cost history, one line per improvement.
func History(w io.Writer, res *opt.Result) error {
	var b strings.Builder
	for _, h := range res.History {
		fmt.Fprintf(&b, "iteration=%d best=%.2f unassigned=%d elapsed=%s\n", h.Iteration, h.BestCost, h.Unassigned, h.Elapsed)
	}
	_, err := io.WriteString(w, b.String())
	return err
}
