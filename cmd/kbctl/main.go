// kbctl 是运维用的命令行工具：在进程内导入本地文件，或直接对知识库做相似度检索。
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"pai-kb-go/internal/app"
	"pai-kb-go/internal/config"
	"pai-kb-go/internal/model"
	"pai-kb-go/internal/pipeline"
	"pai-kb-go/pkg/log"

	"github.com/urfave/cli/v2"
)

func main() {
	if err := newCLI().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newCLI() *cli.App {
	configFlag := &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to config.yaml",
		Value:   "./configs/config.yaml",
	}
	return &cli.App{
		Name:  "kbctl",
		Usage: "Knowledge base operator tool",
		Commands: []*cli.Command{
			{
				Name:      "ingest",
				Usage:     "Create a knowledge base from local files and wait for ingestion",
				ArgsUsage: "FILE...",
				Action:    ingestCommand,
				Flags: []cli.Flag{
					configFlag,
					&cli.UintFlag{
						Name:     "owner",
						Usage:    "Owner user id",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "title",
						Usage:    "Knowledge base title",
						Required: true,
					},
					&cli.DurationFlag{
						Name:  "poll",
						Usage: "Progress polling interval",
						Value: 500 * time.Millisecond,
					},
				},
			},
			{
				Name:      "search",
				Usage:     "Embed a question and print the nearest chunks",
				ArgsUsage: "QUESTION",
				Action:    searchCommand,
				Flags: []cli.Flag{
					configFlag,
					&cli.StringSliceFlag{
						Name:     "kb",
						Usage:    "Knowledge base id (repeatable)",
						Required: true,
					},
					&cli.IntFlag{
						Name:  "top-k",
						Usage: "Number of chunks to return",
						Value: 5,
					},
				},
			},
		},
	}
}

func setup(c *cli.Context) (*app.App, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	return app.New(cfg)
}

// readFiles 读取命令行给出的本地文件，MIME 类型留空由解析器按内容识别。
func readFiles(paths []string) ([]pipeline.UploadedFile, error) {
	files := make([]pipeline.UploadedFile, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("读取文件 %s 失败: %w", p, err)
		}
		files = append(files, pipeline.UploadedFile{Name: filepath.Base(p), Data: data})
	}
	return files, nil
}

func formatSnapshot(s model.TaskSnapshot) string {
	line := fmt.Sprintf("[%3d%%] %d/%d", s.Percentage, s.Processed, s.Total)
	if len(s.Errors) > 0 {
		line += fmt.Sprintf(" errors=%d", len(s.Errors))
	}
	if s.IsCompleted {
		line += " completed"
	}
	return line
}

func ingestCommand(c *cli.Context) error {
	if c.NArg() == 0 {
		return cli.Exit("at least one FILE is required", 2)
	}
	files, err := readFiles(c.Args().Slice())
	if err != nil {
		return err
	}
	a, err := setup(c)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := context.Background()
	taskID, kbID, err := a.Ingestion.StartIngestion(ctx, c.Uint("owner"), c.String("title"), files)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "knowledge base %s, task %s\n", kbID, taskID)

	ticker := time.NewTicker(c.Duration("poll"))
	defer ticker.Stop()
	last := ""
	for range ticker.C {
		snap, err := a.Ingestion.GetProgress(ctx, taskID)
		if err != nil {
			return err
		}
		if line := formatSnapshot(snap); line != last {
			fmt.Fprintln(c.App.Writer, line)
			last = line
		}
		if snap.IsCompleted {
			for _, fe := range snap.Errors {
				fmt.Fprintf(c.App.Writer, "  %s: %s\n", fe.FileName, fe.Message)
			}
			return nil
		}
	}
	return nil
}

func searchCommand(c *cli.Context) error {
	question := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if question == "" {
		return cli.Exit("QUESTION is required", 2)
	}
	a, err := setup(c)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := context.Background()
	vector, err := a.Embedder.CreateEmbedding(ctx, question)
	if err != nil {
		return err
	}
	hits, err := a.Chunks.Search(ctx, c.StringSlice("kb"), vector, c.Int("top-k"))
	if err != nil {
		return err
	}
	for i, h := range hits {
		fmt.Fprintf(c.App.Writer, "%d. [%.4f] %s\n%s\n\n", i+1, h.Distance, h.KnowledgeBaseID, h.Content)
	}
	return nil
}
