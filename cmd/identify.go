package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/andresmejia3/facegate/internal/types"
	"github.com/andresmejia3/facegate/internal/worker"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

// IdentifyOptions holds the flags of the identify command
type IdentifyOptions struct {
	Limit       int
	MaxDistance float64
	Confirm     bool
}

var identifyOpts IdentifyOptions

var identifyCmd = &cobra.Command{
	Use:   "identify <image_path>",
	Short: "Search enrolled users for the face in an image",
	Long: "Ranks enrolled users by cosine distance to the image's embedding, then asks the worker " +
		"to confirm the closest candidate against its stored embedding.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		if err := checkImage(args[0]); err != nil {
			return err
		}
		face, err := newFaceClient()
		if err != nil {
			return err
		}
		return runIdentify(cmd.Context(), DB, face, args[0], identifyOpts)
	},
}

func init() {
	identifyCmd.Flags().IntVarP(&identifyOpts.Limit, "limit", "n", 5, "Number of candidates to show")
	identifyCmd.Flags().Float64VarP(&identifyOpts.MaxDistance, "max-distance", "t", 0.6, "Hide candidates farther than this cosine distance")
	identifyCmd.Flags().BoolVar(&identifyOpts.Confirm, "confirm", true, "Verify the closest candidate with the worker")
	rootCmd.AddCommand(identifyCmd)
}

type identifyStore interface {
	FindClosestUsers(ctx context.Context, e types.Embedding, limit int) ([]types.SimilarUser, error)
	GetFaceEmbedding(ctx context.Context, userID int) (types.Embedding, error)
}

type faceAuthenticator interface {
	faceGenerator
	faceVerifier
}

// identifyResult is what runIdentify found. Confirmed is nil when no confirmation ran.
type identifyResult struct {
	Candidates []types.SimilarUser
	Confirmed  *bool
}

func runIdentify(ctx context.Context, db identifyStore, face faceAuthenticator, imagePath string, opts IdentifyOptions) error {
	res, err := identify(ctx, db, face, imagePath, opts)
	if err != nil {
		return err
	}

	if len(res.Candidates) == 0 {
		fmt.Println("❌ No enrolled user is close enough.")
		return nil
	}
	writeCandidateTable(os.Stdout, res.Candidates)

	if res.Confirmed != nil {
		best := res.Candidates[0]
		if *res.Confirmed {
			fmt.Printf("✅ Match: %s (ID: %d)\n", best.Name, best.ID)
		} else {
			fmt.Printf("❌ Worker did not confirm %s.\n", best.Name)
		}
	}
	return nil
}

func identify(ctx context.Context, db identifyStore, face faceAuthenticator, imagePath string, opts IdentifyOptions) (identifyResult, error) {
	var res identifyResult

	fmt.Fprintln(os.Stderr, "🔍 Analyzing face...")
	emb, err := face.Generate(ctx, imagePath)
	if err != nil {
		return res, showError("Embedding generation failed", err, worker.Logs(err))
	}

	fmt.Fprintln(os.Stderr, "🗄️  Searching database...")
	found, err := db.FindClosestUsers(ctx, emb, max(opts.Limit, 1))
	if err != nil {
		return res, showError("Database search failed", err, "")
	}
	res.Candidates = lo.Filter(found, func(u types.SimilarUser, _ int) bool {
		return opts.MaxDistance <= 0 || u.Distance <= opts.MaxDistance
	})
	if len(res.Candidates) == 0 || !opts.Confirm {
		return res, nil
	}

	target, err := db.GetFaceEmbedding(ctx, res.Candidates[0].ID)
	if err != nil {
		return res, showError("Failed to load embedding", err, "")
	}
	match, err := face.Verify(ctx, imagePath, target)
	if err != nil {
		return res, showError("Verification failed", err, worker.Logs(err))
	}
	res.Confirmed = &match
	return res, nil
}

func writeCandidateTable(out io.Writer, users []types.SimilarUser) {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tUSERNAME\tNAME\tDISTANCE")
	fmt.Fprintln(w, "--\t--------\t----\t--------")
	for _, u := range users {
		fmt.Fprintf(w, "%d\t%s\t%s\t%.4f\n", u.ID, u.Username, u.Name, u.Distance)
	}
	w.Flush()
}
