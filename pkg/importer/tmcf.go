package importer

import (
	"bufio"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/opst/importexec/pkg/dataset"
)

// writeTemplate writes the template mapping of a cleaned CSV.
//
// The first column is the place which each row is about. Each other column
// becomes a StatVarObservation node.
func writeTemplate(w io.Writer, p dataset.Parameter, year int, header []string) error {
	table := strings.TrimSuffix(p.FileName, filepath.Ext(p.FileName))
	place := header[0]

	bw := bufio.NewWriter(w)
	for nth, col := range header[1:] {
		if nth != 0 {
			fmt.Fprintln(bw)
		}
		fmt.Fprintf(bw, "Node: E:%s->E%d\n", table, nth)
		fmt.Fprintln(bw, "typeOf: dcs:StatVarObservation")
		fmt.Fprintf(bw, "variableMeasured: dcs:%s\n", StatVarName(p.FileType, col))
		fmt.Fprintf(bw, "observationAbout: C:%s->%s\n", table, place)
		fmt.Fprintf(bw, "observationDate: \"%d\"\n", year)
		fmt.Fprintf(bw, "value: C:%s->%s\n", table, col)
	}
	return bw.Flush()
}

// StatVarName derives an identifier of a statistical variable from a column name.
//
// Characters other than letters and digits are replaced with "_".
func StatVarName(level dataset.GeoLevel, column string) string {
	b := new(strings.Builder)
	b.WriteString(string(level))
	b.WriteString("_")
	under := false
	for _, r := range column {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			under = false
			continue
		}
		if !under {
			b.WriteRune('_')
			under = true
		}
	}
	return strings.TrimRight(b.String(), "_")
}
