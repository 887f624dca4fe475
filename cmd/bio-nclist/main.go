package main

import (
	"fmt"

	"github.com/grailbio/base/cmdutil"
	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/vcontext"
	"v.io/x/lib/cmdline"
)

const defaultTemplate = "{refseq}/trackData.json"

func newCmdBuild() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:     "build",
		Short:    "Build NCList tracks from a BED file",
		ArgsName: "bedpath",
	}
	opts := buildOpts{}
	cmd.Flags.StringVar(&opts.outDir, "out", "", "Output directory. One subdirectory is written per chromosome.")
	cmd.Flags.IntVar(&opts.chunkSize, "chunk-size", 0, "Top-level features per lazily loaded chunk file. 0 writes a single file per chromosome.")
	cmd.Flags.BoolVar(&opts.compress, "compress", false, "Gzip the output files and name them .jsonz")
	cmd.Flags.Int64Var(&opts.basesPerBin, "bases-per-bin", 0, "Bin width of the precomputed density histogram. 0 disables it.")
	cmd.Flags.BoolVar(&opts.oneBased, "one-based", false, "Interpret BED coordinates as one-based, closed intervals")
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) != 1 {
			return fmt.Errorf("build takes one BED path, but got %v", argv)
		}
		if opts.outDir == "" {
			return fmt.Errorf("build: -out must be set")
		}
		return build(vcontext.Background(), opts, argv[0])
	})
	return cmd
}

func addStoreFlags(cmd *cmdline.Command, opts *storeOpts) {
	cmd.Flags.StringVar(&opts.baseURL, "base", "", "Base URL or directory (with a trailing slash) of the tracks")
	cmd.Flags.StringVar(&opts.template, "template", defaultTemplate, "Location of a chromosome's track data, relative to -base")
	cmd.Flags.IntVar(&opts.cacheSize, "cache-size", 0, "Chunks to keep in memory per track")
}

func newCmdQuery() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:     "query",
		Short:    "Print the features overlapping regions",
		ArgsName: "region...",
		ArgsLong: "Regions are of the form chr, chr:pos or chr:start-end, with 1-based closed coordinates.",
	}
	opts := storeOpts{}
	addStoreFlags(cmd, &opts)
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) == 0 {
			return fmt.Errorf("query takes at least one region")
		}
		return query(vcontext.Background(), env.Stdout, opts, argv)
	})
	return cmd
}

func newCmdHistogram() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:     "histogram",
		Short:    "Print the feature density of a region",
		ArgsName: "region",
	}
	opts := storeOpts{}
	addStoreFlags(cmd, &opts)
	bins := cmd.Flags.Int("bins", 25, "Number of bins")
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) != 1 {
			return fmt.Errorf("histogram takes one region, but got %v", argv)
		}
		return histogram(vcontext.Background(), env.Stdout, opts, argv[0], *bins)
	})
	return cmd
}

func main() {
	shutdown := grail.Init()
	defer shutdown()
	cmdline.HideGlobalFlagsExcept()
	cmdline.Main(&cmdline.Command{
		Name:     "bio-nclist",
		Short:    "Build and query nested containment list feature tracks",
		LookPath: false,
		Children: []*cmdline.Command{
			newCmdBuild(),
			newCmdQuery(),
			newCmdHistogram(),
		},
	})
}
