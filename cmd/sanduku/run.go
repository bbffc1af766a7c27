package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	goutils "github.com/jkaninda/go-utils"

	"github.com/jkaninda/sanduku/internal/config"
)

var (
	runConfigPath  string
	runContextFile string
	runContextJSON string
	runExpr        string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a local interactive REPL against a context",
	Long: `Open an interactive sandbox session in the terminal. Code fragments are
read from stdin and executed against the loaded context; finish a
multi-line fragment with an empty line. Variables persist until exit.`,
	RunE: runLocal,
}

func init() {
	runCmd.Flags().StringVar(&runConfigPath, "config", config.DefaultPath(), "path to config file")
	runCmd.Flags().StringVar(&runContextFile, "context-file", "", "file whose contents become the plain-text context")
	runCmd.Flags().StringVar(&runContextJSON, "context-json", "", "JSON file parsed into the structured context")
	runCmd.Flags().StringVarP(&runExpr, "execute", "e", "", "execute a single fragment and exit")
}

func runLocal(_ *cobra.Command, _ []string) error {
	logger := newLogger()

	cfg, err := loadConfig(goutils.Env("SANDUKU_CONFIG", runConfigPath))
	if err != nil {
		return err
	}

	sc, err := initShared(cfg, logger)
	if err != nil {
		return err
	}
	defer sc.Cleanup()

	deps, err := buildDeps(sc, runContextFile, runContextJSON)
	if err != nil {
		return err
	}
	defer sc.Tool.Teardown(deps)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// One-shot mode.
	if runExpr != "" {
		fmt.Println(sc.Tool.ExecuteCode(ctx, deps, runExpr))
		return nil
	}

	fmt.Printf("sanduku %s — context loaded, session %s\n", version, deps.ID)
	fmt.Println("Finish a fragment with an empty line. Ctrl-D exits.")

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var lines []string
	prompt := ">>> "
	for {
		fmt.Print(prompt)
		if !scanner.Scan() {
			break
		}
		line := scanner.Text()

		// An empty line submits the accumulated fragment; a non-empty
		// single line with no continuation submits immediately.
		if line == "" {
			if len(lines) == 0 {
				continue
			}
		} else {
			lines = append(lines, line)
			if strings.HasSuffix(line, ":") || len(lines) > 1 {
				prompt = "... "
				continue
			}
		}

		fragment := strings.Join(lines, "\n")
		lines = lines[:0]
		prompt = ">>> "

		fmt.Println(sc.Tool.ExecuteCode(ctx, deps, fragment))
		if ctx.Err() != nil {
			break
		}
	}
	return scanner.Err()
}
