package commands

import (
	"fmt"
	"path"
	"time"

	"github.com/spf13/cobra"

	"github.com/FrLars21/bioacoustics/pkg/artifact"
	"github.com/FrLars21/bioacoustics/pkg/cli"
	"github.com/FrLars21/bioacoustics/pkg/kv"
	"github.com/FrLars21/bioacoustics/pkg/storage"
)

var artifactsCmd = &cobra.Command{
	Use:   "artifacts",
	Short: "Inspect and publish classifier artifacts",
	Long: `Inspect the classifier release of the current context and publish new
releases to its artifact store.

Examples:
  birdnet artifacts ls -o table
  birdnet artifacts manifest
  birdnet artifacts push ./release --prefix v2.4
  birdnet artifacts cache clear`,
}

type fileList []storage.Info

func (l fileList) Header() []string { return []string{"PATH", "SIZE", "MODIFIED", "VERSION"} }

func (l fileList) Rows() [][]string {
	rows := make([][]string, len(l))
	for i, f := range l {
		rows[i] = []string{f.Path, cli.FormatBytes(f.Size), f.ModTime.Format(time.RFC3339), f.Version}
	}
	return rows
}

var artifactsLsCmd = &cobra.Command{
	Use:   "ls [prefix]",
	Short: "List files in the artifact store",
	Args:  cobra.MaximumNArgs(1),
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

		prefix := ""
		if len(args) == 1 {
			prefix = args[0]
		}
		files, err := rt.store.List(cmd.Context(), prefix)
		if err != nil {
			return err
		}
		return output(cmd, fileList(files))
	},
}

type manifestInfo struct {
	Manifest *artifact.Manifest `json:"manifest" yaml:"manifest"`
	Backends []string           `json:"backends" yaml:"backends"`
}

var artifactsManifestCmd = &cobra.Command{
	Use:   "manifest",
	Short: "Show the validated classifier manifest",
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

		m, err := rt.loader.Manifest(cmd.Context())
		if err != nil {
			return err
		}
		return output(cmd, manifestInfo{Manifest: m, Backends: artifact.Backends()})
	},
}

var pushPrefix string

var artifactsPushCmd = &cobra.Command{
	Use:   "push <dir>",
	Short: "Copy a local release directory into the artifact store",
	Long: `Copy every file of a local release directory into the artifact store.
A manifest found in the directory is validated first.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := loadService()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		src, err := storage.NewLocal(args[0])
		if err != nil {
			return err
		}
		manifest := svc.Artifacts.Manifest
		if manifest == "" {
			manifest = artifact.DefaultManifest
		}
		if ok, err := storage.Exists(ctx, src, path.Join(pushPrefix, manifest)); err != nil {
			return err
		} else if ok {
			data, err := storage.ReadFile(ctx, src, path.Join(pushPrefix, manifest))
			if err != nil {
				return err
			}
			if _, err := artifact.ParseManifest(data); err != nil {
				return err
			}
		} else {
			cli.PrintWarning(cmd.ErrOrStderr(), "no %s in %s", manifest, args[0])
		}

		rt, err := openRuntime(svc)
		if err != nil {
			return err
		}
		defer rt.Close()

		pushed, err := artifact.Push(ctx, rt.store, src, pushPrefix)
		if err != nil {
			return err
		}
		cli.PrintSuccess(cmd.OutOrStdout(), "Pushed %d files.", len(pushed))
		if IsVerbose() {
			for _, p := range pushed {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", p)
			}
		}
		return nil
	},
}

var artifactsCacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect the fetched-artifact cache",
}

type cacheEntry struct {
	Path    string `json:"path" yaml:"path"`
	Version string `json:"version" yaml:"version"`
	Size    int64  `json:"size" yaml:"size"`
}

type cacheList []cacheEntry

func (l cacheList) Header() []string { return []string{"PATH", "VERSION", "SIZE"} }

func (l cacheList) Rows() [][]string {
	rows := make([][]string, len(l))
	for i, e := range l {
		rows[i] = []string{e.Path, e.Version, cli.FormatBytes(e.Size)}
	}
	return rows
}

// listCache returns the cached blobs and their keys.
func listCache(cmd *cobra.Command, rt *runtime) (cacheList, []kv.Key, error) {
	if rt.cache == nil {
		return nil, nil, fmt.Errorf("cache is disabled")
	}
	var list cacheList
	var keys []kv.Key
	for e, err := range rt.cache.List(cmd.Context(), kv.Key{artifact.CacheNamespace}) {
		if err != nil {
			return nil, nil, err
		}
		entry := cacheEntry{Size: int64(len(e.Value))}
		if len(e.Key) == 3 {
			entry.Path, entry.Version = e.Key[1], e.Key[2]
		} else {
			entry.Path = e.Key.String()
		}
		list = append(list, entry)
		keys = append(keys, e.Key)
	}
	return list, keys, nil
}

var artifactsCacheLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List cached artifact blobs",
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

		list, _, err := listCache(cmd, rt)
		if err != nil {
			return err
		}
		return output(cmd, list)
	},
}

var artifactsCacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every cached artifact blob",
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

		_, keys, err := listCache(cmd, rt)
		if err != nil {
			return err
		}
		for _, k := range keys {
			if err := rt.cache.Delete(cmd.Context(), k); err != nil {
				return err
			}
		}
		cli.PrintSuccess(cmd.OutOrStdout(), "Removed %d cached blobs.", len(keys))
		return nil
	},
}

func init() {
	artifactsPushCmd.Flags().StringVar(&pushPrefix, "prefix", "", "only push files under this directory of the release")

	artifactsCacheCmd.AddCommand(artifactsCacheLsCmd)
	artifactsCacheCmd.AddCommand(artifactsCacheClearCmd)

	artifactsCmd.AddCommand(artifactsLsCmd)
	artifactsCmd.AddCommand(artifactsManifestCmd)
	artifactsCmd.AddCommand(artifactsPushCmd)
	artifactsCmd.AddCommand(artifactsCacheCmd)

	rootCmd.AddCommand(artifactsCmd)
}
