package mip

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/pkg/errors"
)

// WriteLP writes m in CPLEX LP format.
func WriteLP(w io.Writer, m *Model) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "\\ Model %s\n", m.name)
	fmt.Fprintf(bw, "%s\n obj:", m.objSense)
	var obj LinExpr
	for k, v := range m.vars {
		if v.Obj != 0 {
			obj.Add(v.Obj, Var(k))
		}
	}
	writeTerms(bw, m, obj.Terms)
	if m.objConst != 0 {
		fmt.Fprintf(bw, " %s %s", signOf(m.objConst), num(math.Abs(m.objConst)))
	}
	bw.WriteString("\nSubject To\n")
	for _, c := range m.constrs {
		writeConstraint(bw, m, c)
	}
	writeBounds(bw, m)
	writeSection(bw, m, "Binaries", Binary)
	writeSection(bw, m, "Generals", Integer)
	bw.WriteString("End\n")
	return errors.Wrap(bw.Flush(), "write lp")
}

// WriteSolution writes one "name value" line per variable, preceded by the
// objective value.
func WriteSolution(w io.Writer, m *Model, res Result) error {
	if !res.HasSolution() {
		return errors.Errorf("write solution: model %s has no solution (%s)", m.name, res.Status)
	}
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "# Solution for model %s\n", m.name)
	fmt.Fprintf(bw, "# Objective value = %s\n", num(res.ObjVal))
	for k, v := range m.vars {
		fmt.Fprintf(bw, "%s %s\n", v.Name, num(res.Values[k]))
	}
	return errors.Wrap(bw.Flush(), "write solution")
}

// WriteIIS writes the subsystem in LP format, limited to the variables it
// mentions.
func WriteIIS(w io.Writer, m *Model, iis IIS) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "\\ Model %s_copy\n", m.name)
	bw.WriteString("\\ LP format - for model browsing. Use MPS format to capture full model detail.\n")
	if iis.Partial {
		bw.WriteString("\\ Partial subsystem: reduction stopped at the time limit, may not be minimal.\n")
	}
	bw.WriteString("Minimize\n \nSubject To\n")
	used := map[Var]bool{}
	for _, c := range iis.Constraints {
		writeConstraint(bw, m, c)
		for _, t := range c.Expr.Terms {
			used[t.Var] = true
		}
	}
	var bins []string
	for k, v := range m.vars {
		if used[Var(k)] && v.Type == Binary {
			bins = append(bins, v.Name)
		}
	}
	if len(bins) > 0 {
		bw.WriteString("Binaries\n")
		writeNames(bw, bins)
	}
	bw.WriteString("End\n")
	return errors.Wrap(bw.Flush(), "write iis")
}

func writeConstraint(bw *bufio.Writer, m *Model, c Constraint) {
	fmt.Fprintf(bw, " %s:", c.Name)
	writeTerms(bw, m, c.Expr.Terms)
	fmt.Fprintf(bw, " %s %s\n", c.Sense, num(c.RHS))
}

func writeTerms(bw *bufio.Writer, m *Model, terms []Term) {
	for k, t := range terms {
		switch {
		case k == 0 && t.Coef >= 0:
			fmt.Fprintf(bw, " %s %s", num(t.Coef), m.vars[t.Var].Name)
		default:
			fmt.Fprintf(bw, " %s %s %s", signOf(t.Coef), num(math.Abs(t.Coef)), m.vars[t.Var].Name)
		}
	}
	if len(terms) == 0 {
		bw.WriteString(" 0")
	}
}

func writeBounds(bw *bufio.Writer, m *Model) {
	var lines []string
	for _, v := range m.vars {
		if v.Type == Binary || (v.Lower == 0 && math.IsInf(v.Upper, 1)) {
			continue
		}
		switch {
		case math.IsInf(v.Lower, -1) && math.IsInf(v.Upper, 1):
			lines = append(lines, fmt.Sprintf(" %s free", v.Name))
		case v.Lower == v.Upper:
			lines = append(lines, fmt.Sprintf(" %s = %s", v.Name, num(v.Lower)))
		default:
			lines = append(lines, fmt.Sprintf(" %s <= %s <= %s", num(v.Lower), v.Name, num(v.Upper)))
		}
	}
	if len(lines) == 0 {
		return
	}
	bw.WriteString("Bounds\n")
	for _, l := range lines {
		bw.WriteString(l + "\n")
	}
}

func writeSection(bw *bufio.Writer, m *Model, title string, typ VarType) {
	var names []string
	for _, v := range m.vars {
		if v.Type == typ {
			names = append(names, v.Name)
		}
	}
	if len(names) == 0 {
		return
	}
	bw.WriteString(title + "\n")
	writeNames(bw, names)
}

// writeNames wraps name lists at a handful of names per line.
func writeNames(bw *bufio.Writer, names []string) {
	for k, n := range names {
		bw.WriteString(" " + n)
		if (k+1)%8 == 0 || k == len(names)-1 {
			bw.WriteString("\n")
		}
	}
}

func signOf(v float64) string {
	if v < 0 {
		return "-"
	}
	return "+"
}

func num(v float64) string {
	switch {
	case math.IsInf(v, 1):
		return "inf"
	case math.IsInf(v, -1):
		return "-inf"
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}
