package report

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"gonum.org/v1/gonum/mat"
)

// Summary renders the final accuracy, the cluster -> label mapping and the
// raw confusion counts (rows actual, columns predicted) for the terminal.
func Summary(accuracy float64, reassignment map[int]int, confusion *mat.Dense) string {
	cellStyle := lipgloss.NewStyle().Padding(0, 1)
	headerStyle := lipgloss.NewStyle().Padding(0, 1).Bold(true).Reverse(true)
	styleFn := func(row, col int) lipgloss.Style {
		if row == lgtable.HeaderRow || col == 0 {
			return headerStyle
		}
		return cellStyle
	}

	clusters := make([]int, 0, len(reassignment))
	for c := range reassignment {
		clusters = append(clusters, c)
	}
	sort.Ints(clusters)
	mapping := lgtable.New().Border(lipgloss.RoundedBorder()).StyleFunc(styleFn).
		Headers("cluster", "label")
	for _, c := range clusters {
		mapping.Row(strconv.Itoa(c), strconv.Itoa(reassignment[c]))
	}

	out := lipgloss.NewStyle().Bold(true).Render(fmt.Sprintf("Final accuracy: %.4f", accuracy)) + "\n"
	out += mapping.String() + "\n"
	if confusion == nil {
		return out
	}

	rows, cols := confusion.Dims()
	headers := make([]string, cols+1)
	headers[0] = "actual\\pred"
	for c := 0; c < cols; c++ {
		headers[c+1] = strconv.Itoa(c)
	}
	counts := lgtable.New().Border(lipgloss.RoundedBorder()).StyleFunc(styleFn).Headers(headers...)
	for r := 0; r < rows; r++ {
		row := make([]string, cols+1)
		row[0] = strconv.Itoa(r)
		for c := 0; c < cols; c++ {
			row[c+1] = strconv.FormatFloat(confusion.At(r, c), 'f', 0, 64)
		}
		counts.Row(row...)
	}
	return out + counts.String() + "\n"
}
