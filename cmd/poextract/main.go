package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"poextract/internal"
	"poextract/internal/catalog"
	"poextract/internal/config"
	"poextract/internal/connectors"
	"poextract/internal/extractor"
	"poextract/internal/listener"
	"poextract/internal/pipeline"
	"poextract/internal/storage"
)

func main() {
	cfg, err := config.Load()
	must(err)

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cmd := os.Args[1]
	if cmd == "run" {
		runOneShot(ctx, cfg, os.Args[2:])
		return
	}

	db, err := storage.Open(cfg.DBPath)
	must(err)
	defer db.Close()

	switch cmd {
	case "catalog:load":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		file := fs.String("file", "", "catalog file (.csv|.tsv|.txt|.xlsx|.html)")
		_ = fs.Parse(os.Args[2:])
		if strings.TrimSpace(*file) == "" {
			must(fmt.Errorf("--file is required"))
		}
		count, err := catalog.NewService(db).Import(*file)
		must(err)
		fmt.Printf("catalog loaded source=%s entries=%d\n", filepath.Base(*file), count)
	case "catalog:show":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		limit := fs.Int("limit", 20, "entries to print, 0 for all")
		_ = fs.Parse(os.Args[2:])
		svc := catalog.NewService(db)
		entries, err := svc.Entries()
		must(err)
		fmt.Printf("catalog source=%q entries=%d\n", svc.SourceName(), len(entries))
		for i, e := range entries {
			if *limit > 0 && i >= *limit {
				fmt.Printf("  ... %d more\n", len(entries)-i)
				break
			}
			fmt.Printf("  %s\t%s\n", e.InternalCode, e.CatalogDescription)
		}
	case "docs:add":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		_ = fs.Parse(os.Args[2:])
		if fs.NArg() == 0 {
			must(fmt.Errorf("at least one file is required"))
		}
		processor := pipeline.NewProcessingService(db, cfg, nil)
		for _, path := range fs.Args() {
			doc, err := processor.SubmitFile(path)
			if err != nil {
				fmt.Fprintf(os.Stderr, "skip %s: %v\n", path, err)
				continue
			}
			fmt.Printf("queued id=%s file=%s media=%s\n", doc.ID, doc.Filename, doc.MediaType)
		}
	case "docs:list":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		status := fs.String("status", "", "waiting|processing|done|error")
		_ = fs.Parse(os.Args[2:])
		docs, err := db.ListDocuments(internal.DocumentStatus(*status))
		must(err)
		for _, doc := range docs {
			line := fmt.Sprintf("%s\t%-10s\t%s", doc.ID, doc.Status, doc.Filename)
			if doc.ErrorMsg != "" {
				line += "\t" + doc.ErrorMsg
			}
			fmt.Println(line)
		}
		fmt.Printf("documents=%d\n", len(docs))
	case "docs:process":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		id := fs.String("id", "", "re-process a single document")
		limit := fs.Int("limit", 0, "max waiting documents, 0 for all")
		_ = fs.Parse(os.Args[2:])
		processor := newProcessor(db, cfg)
		var res pipeline.RunResult
		if strings.TrimSpace(*id) != "" {
			res, err = processor.ProcessDocument(ctx, *id)
		} else {
			requeue(processor)
			res, err = processor.ProcessPending(ctx, *limit)
		}
		must(err)
		printRun(res)
	case "docs:retry":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		id := fs.String("id", "", "document id, empty retries every failed document")
		_ = fs.Parse(os.Args[2:])
		count, err := pipeline.NewProcessingService(db, cfg, nil).Retry(*id)
		must(err)
		fmt.Printf("requeued documents=%d\n", count)
	case "docs:remove":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		id := fs.String("id", "", "document id")
		_ = fs.Parse(os.Args[2:])
		if strings.TrimSpace(*id) == "" {
			must(fmt.Errorf("--id is required"))
		}
		must(pipeline.NewProcessingService(db, cfg, nil).Remove(*id))
		fmt.Printf("removed id=%s\n", *id)
	case "docs:clear":
		count, err := pipeline.NewProcessingService(db, cfg, nil).Clear()
		must(err)
		fmt.Printf("cleared documents=%d\n", count)
	case "export:xlsx", "export:csv":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		emailID := fs.Int("emailId", 0, "only documents of this email")
		out := fs.String("out", "", "output path")
		_ = fs.Parse(os.Args[2:])
		path := *out
		if strings.TrimSpace(path) == "" {
			path = filepath.Join(cfg.OutputDir, "orders."+strings.TrimPrefix(cmd, "export:"))
		}
		var filter *int
		if *emailID > 0 {
			filter = emailID
		}
		must(os.MkdirAll(filepath.Dir(path), 0o755))
		summary, err := pipeline.NewProcessingService(db, cfg, nil).Export(filter, path)
		must(err)
		if summary.Rows == 0 {
			fmt.Fprintln(os.Stderr, "warning: no completed documents, wrote an empty sheet")
		}
		fmt.Printf("exported documents=%d rows=%d missing_refs=%d output=%s\n", summary.Documents, summary.Rows, summary.MissingRefs, path)
	case "mail:fetch":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		provider := fs.String("provider", cfg.MailListenerProvider, "gmail|imap")
		label := fs.String("label", cfg.MailListenerLabel, "mailbox/label")
		maxMessages := fs.Int("max", 50, "max messages")
		_ = fs.Parse(os.Args[2:])
		conn, err := listener.NewConnector(ctx, cfg, *provider)
		must(err)
		result, err := connectors.NewFetchService(db, cfg.RawMailDir, conn).FetchAndStore(ctx, *label, *maxMessages)
		must(err)
		fmt.Printf("mail fetch done provider=%s fetched=%d stored=%d known=%d\n", conn.Provider(), result.Fetched, result.Stored, result.Known)
	case "mail:process":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		provider := fs.String("provider", "", "gmail|imap, empty for all")
		messageID := fs.String("messageId", "", "specific message-id")
		batch := fs.Int("batch", 20, "batch size")
		_ = fs.Parse(os.Args[2:])
		processor := newProcessor(db, cfg)
		requeue(processor)
		if strings.TrimSpace(*messageID) != "" {
			if *provider == "" {
				must(fmt.Errorf("--provider is required with --messageId"))
			}
			res, err := processor.ProcessByProviderMessageID(ctx, *provider, *messageID)
			must(err)
			printEmail(res)
			return
		}
		results, err := processor.ProcessPendingEmails(ctx, *batch, *provider)
		must(err)
		for _, res := range results {
			printEmail(res)
		}
		fmt.Printf("processed pending emails=%d\n", len(results))
	case "mail:listen":
		must(listener.NewService(db, cfg, newProcessor(db, cfg)).Run(ctx))
	default:
		usage()
		os.Exit(1)
	}
}

func runOneShot(ctx context.Context, cfg config.Config, args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	output := fs.String("output", "", "output .xlsx or .csv path")
	catalogFile := fs.String("catalog", "", "catalog file, defaults to the stored catalog")
	_ = fs.Parse(args)
	if fs.NArg() == 0 || strings.TrimSpace(*output) == "" {
		must(fmt.Errorf("--output and at least one input file are required"))
	}
	must(cfg.Require("ANTHROPIC_API_KEY", cfg.AnthropicAPIKey))

	var entries []internal.CatalogEntry
	if *catalogFile != "" {
		loaded, err := catalog.LoadFile(*catalogFile)
		must(err)
		entries = loaded
	} else {
		db, err := storage.Open(cfg.DBPath)
		must(err)
		entries, err = db.ListCatalog()
		_ = db.Close()
		must(err)
	}

	res := pipeline.RunOneShot(ctx, extractor.NewClient(cfg), fs.Args(), entries, cfg.MatchThreshold, cfg.ExtractConcurrency, cfg.PDFMaxPages)
	for path, err := range res.Failed {
		fmt.Fprintf(os.Stderr, "failed %s: %v\n", path, err)
	}

	sheet := pipeline.SheetFor(res.Batch, pipeline.LocaleFor(cfg.ExportLocale))
	must(os.MkdirAll(filepath.Dir(*output), 0o755))
	if strings.EqualFold(filepath.Ext(*output), ".csv") {
		must(pipeline.WriteCSVFile(sheet, *output))
	} else {
		must(pipeline.WriteXLSX(sheet, *output, pipeline.ExportOptions{NumericCells: cfg.ExportNumericCells}))
	}
	fmt.Printf("run done %s output=%s\n", res, *output)
}

func newProcessor(db *storage.DB, cfg config.Config) *pipeline.ProcessingService {
	must(cfg.Require("ANTHROPIC_API_KEY", cfg.AnthropicAPIKey))
	return pipeline.NewProcessingService(db, cfg, extractor.NewClient(cfg))
}

func requeue(processor *pipeline.ProcessingService) {
	n, err := processor.RequeueInterrupted()
	must(err)
	if n > 0 {
		fmt.Printf("requeued interrupted documents=%d\n", n)
	}
}

func printRun(res pipeline.RunResult) {
	for _, err := range res.Errors {
		fmt.Fprintf(os.Stderr, "  %v\n", err)
	}
	fmt.Printf("run trace=%s done=%d failed=%d\n", res.TraceID, res.Done, res.Failed)
}

func printEmail(res pipeline.EmailResult) {
	if res.Err != nil {
		fmt.Fprintf(os.Stderr, "email id=%d failed: %v\n", res.EmailID, res.Err)
		return
	}
	if res.Skipped {
		fmt.Printf("email id=%d skipped reason=%s score=%.2f\n", res.EmailID, res.Detect.Reason, res.Detect.Score)
		return
	}
	fmt.Printf("email id=%d submitted=%d done=%d failed=%d\n", res.EmailID, res.Submitted, res.Run.Done, res.Run.Failed)
}

func usage() {
	fmt.Println("usage: poextract <command>")
	fmt.Println("commands:")
	fmt.Println("  catalog:load --file=catalog.xlsx")
	fmt.Println("  catalog:show [--limit=20]")
	fmt.Println("  docs:add file.pdf [file.png ...]")
	fmt.Println("  docs:list [--status=waiting|processing|done|error]")
	fmt.Println("  docs:process [--id=...] [--limit=0]")
	fmt.Println("  docs:retry [--id=...]  (an id may also name a document stuck in processing)")
	fmt.Println("  docs:remove --id=...")
	fmt.Println("  docs:clear")
	fmt.Println("  export:xlsx [--emailId=1] [--out=./out/orders.xlsx]")
	fmt.Println("  export:csv [--emailId=1] [--out=./out/orders.csv]")
	fmt.Println("  mail:fetch --provider=gmail|imap --label=INBOX --max=50")
	fmt.Println("  mail:process [--provider=gmail|imap] [--messageId=...] [--batch=20]")
	fmt.Println("  mail:listen")
	fmt.Println("  run --output=out.xlsx [--catalog=catalog.csv] file.pdf [file.png ...]")
}

func must(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
