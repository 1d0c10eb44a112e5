package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/andresmejia3/facegate/internal/types"
	"github.com/andresmejia3/facegate/internal/worker"
	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
)

var embedCmd = &cobra.Command{
	Use:         "embed <image_path>",
	Short:       "Print the face embedding the worker produces for an image",
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{noDBAnnotation: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runEmbed(cmd.Context(), args[0])
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify <image_path> <embedding_json | @file>",
	Short: "Check an image against an embedding and print true or false",
	Long: "Runs the worker in verify mode. The embedding is a JSON number array, " +
		"given inline or as @path to a file containing one (e.g. the output of 'embed').",
	Args:        cobra.ExactArgs(2),
	Annotations: map[string]string{noDBAnnotation: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runVerify(cmd.Context(), args[0], args[1])
	},
}

func init() {
	rootCmd.AddCommand(embedCmd)
	rootCmd.AddCommand(verifyCmd)
}

func runEmbed(ctx context.Context, imagePath string) error {
	if err := checkImage(imagePath); err != nil {
		return err
	}

	face, err := newFaceClient()
	if err != nil {
		return err
	}

	fmt.Fprintln(os.Stderr, "🔍 Generating embedding...")
	emb, err := face.Generate(ctx, imagePath)
	if err != nil {
		return showError("Embedding generation failed", err, worker.Logs(err))
	}

	out, err := json.Marshal(emb)
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	fmt.Fprintf(os.Stderr, "✅ %d dimensions\n", len(emb))
	return nil
}

func runVerify(ctx context.Context, imagePath, embeddingArg string) error {
	if err := checkImage(imagePath); err != nil {
		return err
	}
	target, err := parseEmbeddingArg(embeddingArg)
	if err != nil {
		return showError("Invalid embedding argument", err, "")
	}

	face, err := newFaceClient()
	if err != nil {
		return err
	}

	match, err := face.Verify(ctx, imagePath, target)
	if err != nil {
		return showError("Verification failed", err, worker.Logs(err))
	}
	fmt.Println(match)
	return nil
}

// parseEmbeddingArg reads an embedding given inline or as @file.
func parseEmbeddingArg(arg string) (types.Embedding, error) {
	raw := []byte(arg)
	if path, ok := strings.CutPrefix(arg, "@"); ok {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		raw = b
	}

	var vals []*float64
	if err := json.Unmarshal(raw, &vals); err != nil {
		return nil, fmt.Errorf("embedding must be a JSON number array: %w", err)
	}
	if len(vals) == 0 {
		return nil, errors.New("embedding is empty")
	}
	emb := make(types.Embedding, len(vals))
	for i, v := range vals {
		if v == nil {
			return nil, fmt.Errorf("embedding element %d is null", i)
		}
		emb[i] = *v
	}
	return emb, nil
}

func checkImage(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return showError("Input file does not exist", err, "")
		}
		return showError("Unable to access input file", err, "")
	}
	if info.IsDir() {
		err := fmt.Errorf("%s is a directory", path)
		return showError("Expected an image file", err, "")
	}
	return nil
}
