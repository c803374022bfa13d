// watermarkctl is the operator CLI for the forensic watermark pipeline.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"watermarkd/internal/config"
	"watermarkd/internal/engine"
	"watermarkd/internal/evidence"
	"watermarkd/internal/imageio"
	"watermarkd/internal/payload"
	"watermarkd/internal/phash"
	"watermarkd/internal/qim"
	"watermarkd/internal/robustness"
	"watermarkd/internal/signer"
	"watermarkd/internal/store"
)

// Version information (set via ldflags during build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// Exit codes.
const (
	exitOK       = 0
	exitUsage    = 2
	exitCapacity = 3
	exitExtract  = 4
	exitSigning  = 5
)

var (
	configPath  = flag.String("config", "", "path to config file")
	showVersion = flag.Bool("version", false, "show version information")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("watermarkctl %s (built %s)\n", Version, BuildTime)
		os.Exit(exitOK)
	}

	if flag.NArg() < 1 {
		usage()
		os.Exit(exitUsage)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatalf(exitSigning, "load config: %v", err)
	}

	args := flag.Args()[1:]
	switch flag.Arg(0) {
	case "embed":
		cmdEmbed(ctx, cfg, args)
	case "extract":
		cmdExtract(ctx, cfg, args)
	case "verify":
		cmdVerify(args)
	case "robust":
		cmdRobust(ctx, cfg, args)
	case "hash":
		cmdHash(args)
	case "lookup":
		cmdLookup(cfg, args)
	case "export":
		cmdExport(cfg, args)
	case "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", flag.Arg(0))
		usage()
		os.Exit(exitUsage)
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `Usage: watermarkctl [flags] <command> [args]

Commands:
  embed    --in <path> [--payload <string>] [--workid <id>] [--strength <f>] [--ecc <n>] --out <path>
  extract  --in <path> --workid <id> --payload-hash <hex> --length <n> [--ecc <n>] [--strength <f>]
  verify   --record <json>
  robust   --in <path> --workid <id> --payload-hash <hex> --length <n> [--ecc <n>] [--strength <f>]
  hash     --in <path>
  lookup   --in <path> [--limit <n>]
  export   --workid <id> [--out <path>]

Flags:
`)
	flag.PrintDefaults()
}

func fatalf(code int, format string, args ...any) {
	fmt.Fprintf(os.Stderr, "watermarkctl: "+format+"\n", args...)
	os.Exit(code)
}

func newEngine(cfg *config.Config) *engine.Engine {
	eng := &engine.Engine{
		Profile: payload.Profile{
			LegalName:     cfg.Owner.LegalName,
			DisplayName:   cfg.Owner.DisplayName,
			CopyrightYear: cfg.Owner.CopyrightYear,
			PrimarySource: cfg.Owner.PrimarySource,
		},
	}
	if key := cfg.SigningKey(); key != "" {
		s, err := signer.New(key)
		if err != nil {
			fatalf(exitSigning, "signing key: %v", err)
		}
		eng.Signer = s
	}
	return eng
}

func cmdEmbed(ctx context.Context, cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("embed", flag.ExitOnError)
	in := fs.String("in", "", "input image path")
	out := fs.String("out", "", "output image path")
	payloadStr := fs.String("payload", "", "embeddable payload (defaults to the profile compact form)")
	workID := fs.String("workid", "", "work identifier (generated when empty)")
	strength := fs.Float64("strength", cfg.Strength, "embed strength")
	ecc := fs.Int("ecc", cfg.EccBytes, "parity bytes")
	asPNG := fs.Bool("png", false, "write PNG instead of JPEG")
	fs.Parse(args)

	if *in == "" || *out == "" {
		fatalf(exitUsage, "embed: --in and --out are required")
	}

	data, err := os.ReadFile(*in)
	if err != nil {
		fatalf(exitUsage, "read input: %v", err)
	}

	eng := newEngine(cfg)
	if eng.Signer != nil {
		defer eng.Signer.Close()
	}

	format := engine.FormatJPEG
	if *asPNG {
		format = engine.FormatPNG
	}

	res, err := eng.Embed(ctx, engine.EmbedRequest{
		Data:     data,
		FileName: filepath.Base(*in),
		WorkID:   *workID,
		Payload:  *payloadStr,
		Strength: *strength,
		EccBytes: *ecc,
		Format:   format,
		Quality:  cfg.JPEGQuality,
	})
	if err != nil {
		if errors.Is(err, qim.ErrCapacityExceeded) {
			fatalf(exitCapacity, "embed: %v", err)
		}
		fatalf(exitUsage, "embed: %v", err)
	}

	if err := os.WriteFile(*out, res.Watermarked, 0644); err != nil {
		fatalf(exitUsage, "write output: %v", err)
	}

	if res.QualityWarning {
		fmt.Fprintln(os.Stderr, "warning: quality below perceptual target (psnr<40 or ssim<0.95)")
	}

	if cfg.StorePath != "" {
		if st, err := store.Open(cfg.StorePath); err == nil {
			defer st.Close()
			if err := st.Put(res.Record); err != nil {
				fmt.Fprintf(os.Stderr, "warning: evidence store: %v\n", err)
			}
		}
	}

	blob, _ := res.Record.Marshal()
	fmt.Println(string(blob))
}

func cmdExtract(ctx context.Context, cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("extract", flag.ExitOnError)
	in := fs.String("in", "", "input image path")
	workID := fs.String("workid", "", "work identifier")
	payloadHash := fs.String("payload-hash", "", "canonical payload SHA-256 (hex)")
	length := fs.Int("length", 0, "payload byte length")
	ecc := fs.Int("ecc", cfg.EccBytes, "parity bytes")
	strength := fs.Float64("strength", cfg.Strength, "embed strength")
	fs.Parse(args)

	if *in == "" || *workID == "" || *payloadHash == "" || *length <= 0 {
		fatalf(exitUsage, "extract: --in, --workid, --payload-hash and --length are required")
	}

	data, err := os.ReadFile(*in)
	if err != nil {
		fatalf(exitUsage, "read input: %v", err)
	}

	eng := newEngine(cfg)
	res, err := eng.Extract(ctx, data, *workID, *payloadHash, *length, *ecc, *strength)
	if err != nil {
		fatalf(exitExtract, "extract: %v", err)
	}

	out := map[string]any{
		"confidence":      res.Confidence,
		"errorsFound":     res.ErrorsFound,
		"errorsCorrected": res.ErrorsCorrected,
	}
	if res.Payload != nil {
		out["payload"] = string(res.Payload)
	}
	blob, _ := json.MarshalIndent(out, "", "  ")
	fmt.Println(string(blob))

	if res.Payload == nil {
		os.Exit(exitExtract)
	}
}

func cmdVerify(args []string) {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	recordPath := fs.String("record", "", "evidence record JSON path")
	fs.Parse(args)

	if *recordPath == "" {
		fatalf(exitUsage, "verify: --record is required")
	}

	data, err := os.ReadFile(*recordPath)
	if err != nil {
		fatalf(exitUsage, "read record: %v", err)
	}

	rec, err := evidence.ParseRecord(data)
	if err != nil {
		fatalf(exitUsage, "parse record: %v", err)
	}

	if err := rec.Verify(); err != nil {
		if errors.Is(err, evidence.ErrUnsigned) {
			fmt.Println("payload hash verified; record is unsigned")
			return
		}
		fatalf(exitExtract, "verify: %v", err)
	}

	fmt.Printf("verified: %s (signed %s)\n", rec.WorkID, time.UnixMilli(rec.TimestampMillis).UTC().Format(time.RFC3339))
}

func cmdRobust(ctx context.Context, cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("robust", flag.ExitOnError)
	in := fs.String("in", "", "watermarked image path")
	workID := fs.String("workid", "", "work identifier")
	payloadHash := fs.String("payload-hash", "", "canonical payload SHA-256 (hex)")
	length := fs.Int("length", 0, "payload byte length")
	ecc := fs.Int("ecc", cfg.EccBytes, "parity bytes")
	strength := fs.Float64("strength", cfg.Strength, "embed strength")
	fs.Parse(args)

	if *in == "" || *workID == "" || *payloadHash == "" || *length <= 0 {
		fatalf(exitUsage, "robust: --in, --workid, --payload-hash and --length are required")
	}

	data, err := os.ReadFile(*in)
	if err != nil {
		fatalf(exitUsage, "read input: %v", err)
	}
	img, err := imageio.Decode(data)
	if err != nil {
		fatalf(exitUsage, "decode input: %v", err)
	}

	report, err := robustness.Run(ctx, img, *length, qim.Params{
		Strength:    *strength,
		EccBytes:    *ecc,
		WorkID:      *workID,
		PayloadHash: *payloadHash,
	})
	if err != nil {
		fatalf(exitExtract, "robust: %v", err)
	}

	blob, _ := json.MarshalIndent(report, "", "  ")
	fmt.Println(string(blob))
}

func cmdHash(args []string) {
	fs := flag.NewFlagSet("hash", flag.ExitOnError)
	in := fs.String("in", "", "image path")
	fs.Parse(args)

	if *in == "" {
		fatalf(exitUsage, "hash: --in is required")
	}

	data, err := os.ReadFile(*in)
	if err != nil {
		fatalf(exitUsage, "read input: %v", err)
	}
	img, err := imageio.Decode(data)
	if err != nil {
		fatalf(exitUsage, "decode input: %v", err)
	}

	fp := phash.Compute(img)
	blob, _ := json.MarshalIndent(map[string]string{
		"sha256": signer.HashBytes(data),
		"pHash":  fp.PHash.String(),
		"aHash":  fp.AHash.String(),
		"dHash":  fp.DHash.String(),
	}, "", "  ")
	fmt.Println(string(blob))
}

func cmdLookup(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("lookup", flag.ExitOnError)
	in := fs.String("in", "", "image path")
	limit := fs.Int("limit", 10, "max matches")
	fs.Parse(args)

	if *in == "" {
		fatalf(exitUsage, "lookup: --in is required")
	}

	data, err := os.ReadFile(*in)
	if err != nil {
		fatalf(exitUsage, "read input: %v", err)
	}
	img, err := imageio.Decode(data)
	if err != nil {
		fatalf(exitUsage, "decode input: %v", err)
	}

	st, err := store.Open(cfg.StorePath)
	if err != nil {
		fatalf(exitSigning, "open store: %v", err)
	}
	defer st.Close()

	matches, err := st.FindSimilar(phash.Compute(img), *limit)
	if err != nil {
		fatalf(exitExtract, "lookup: %v", err)
	}

	type hit struct {
		WorkID     string  `json:"workId"`
		Similarity float64 `json:"similarity"`
		Grade      string  `json:"grade"`
	}
	out := make([]hit, 0, len(matches))
	for _, m := range matches {
		out = append(out, hit{
			WorkID:     m.Record.WorkID,
			Similarity: m.Similarity,
			Grade:      m.Grade.String(),
		})
	}
	blob, _ := json.MarshalIndent(out, "", "  ")
	fmt.Println(string(blob))
}

func cmdExport(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	workID := fs.String("workid", "", "work identifier")
	out := fs.String("out", "", "output path (stdout when empty)")
	fs.Parse(args)

	if *workID == "" {
		fatalf(exitUsage, "export: --workid is required")
	}

	st, err := store.Open(cfg.StorePath)
	if err != nil {
		fatalf(exitSigning, "open store: %v", err)
	}
	defer st.Close()

	rec, err := st.Get(*workID)
	if err != nil {
		fatalf(exitExtract, "export: %v", err)
	}
	if rec == nil {
		fatalf(exitExtract, "export: work %s not found", *workID)
	}

	history, err := st.Detections(*workID)
	if err != nil {
		fatalf(exitExtract, "export: %v", err)
	}

	canonical, err := rec.CanonicalFor()
	if err != nil {
		fatalf(exitExtract, "export: %v", err)
	}

	doc, err := evidence.BuildExport(rec, evidence.Owner{
		LegalName:     cfg.Owner.LegalName,
		DisplayName:   cfg.Owner.DisplayName,
		CopyrightYear: cfg.Owner.CopyrightYear,
		PrimarySource: cfg.Owner.PrimarySource,
	}, canonical.Get(payload.KeyMediaType), "", 0, "", history, time.Now())
	if err != nil {
		fatalf(exitExtract, "export: %v", err)
	}

	blob, err := doc.Marshal()
	if err != nil {
		fatalf(exitExtract, "export: %v", err)
	}

	if *out == "" {
		fmt.Println(string(blob))
		return
	}
	if err := os.WriteFile(*out, blob, 0644); err != nil {
		fatalf(exitUsage, "write export: %v", err)
	}
}
