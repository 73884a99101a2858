package commands

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/FrLars21/bioacoustics/pkg/classifier"
)

type labelList classifier.Vocabulary

func (l labelList) Header() []string { return []string{"INDEX", "SPECIES"} }

func (l labelList) Rows() [][]string {
	rows := make([][]string, len(l))
	for i, s := range l {
		rows[i] = []string{strconv.Itoa(i), s}
	}
	return rows
}

var labelsCmd = &cobra.Command{
	Use:   "labels",
	Short: "List the species vocabulary of the configured classifier",
	Long: `List the species vocabulary in classifier output order.

Examples:
  birdnet labels -o table
  birdnet labels --jq '.[] | select(test("Turdus"))'`,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := loadService()
		if err != nil {
			return err
		}
		rt, err := openRuntime(svc)
		if err != nil {
			return err
		}
		defer rt.Close()

		model, labels, err := rt.loader.Load(cmd.Context())
		if err != nil {
			return err
		}
		model.Close()
		return output(cmd, labelList(labels))
	},
}

func init() {
	rootCmd.AddCommand(labelsCmd)
}
