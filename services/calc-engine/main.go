package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"capital_waterfall/pkg/core/cascade"
	"capital_waterfall/pkg/core/report"
	"capital_waterfall/pkg/core/taxalloc"
	"capital_waterfall/pkg/core/utils"
	"capital_waterfall/pkg/core/waterfall"
	"capital_waterfall/pkg/logger"

	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	mode    string
	data    string
	files   []string
	presets string
	format  string
	workers int
	repair  bool
	verbose bool
}

func parseFlags(args []string) (options, error) {
	var o options
	fs := flag.NewFlagSet("calc-engine", flag.ContinueOnError)
	fs.StringVar(&o.mode, "mode", "calculate", "calculate: compute requests; check: verify stored results")
	fs.StringVar(&o.data, "data", "", "inline JSON payload")
	fs.StringSliceVarP(&o.files, "file", "f", nil, "payload file; repeat to compute several events")
	fs.StringVar(&o.presets, "presets", "config/waterfalls.yaml", "waterfall presets file")
	fs.StringVar(&o.format, "format", "json", "output format: json, markdown or html")
	fs.IntVar(&o.workers, "workers", 4, "concurrent computations when several files are given")
	fs.BoolVar(&o.repair, "repair", false, "accept payloads that only parse after JSON repair")
	fs.BoolVarP(&o.verbose, "verbose", "v", false, "enable verbose (debug) logging")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if o.data == "" && len(o.files) == 0 {
		return o, fmt.Errorf("no data provided: use --data or --file")
	}
	switch o.format {
	case "json", "markdown", "html":
	default:
		return o, fmt.Errorf("unknown format %q", o.format)
	}
	return o, nil
}

func run(args []string, out io.Writer) error {
	o, err := parseFlags(args)
	if err != nil {
		return err
	}
	_ = godotenv.Load()
	log := logger.NewWithWriter(os.Stderr, o.verbose)

	payloads, err := readPayloads(o)
	if err != nil {
		return err
	}

	switch o.mode {
	case "calculate":
		presets, err := waterfall.LoadPresets(o.presets)
		if err != nil {
			log.Debug("[CALC] presets unavailable", "file", o.presets, "error", err)
		}
		parse := utils.ParseExact
		if o.repair {
			parse = utils.SmartParse
		}
		reqs := make([]cascade.Request, len(payloads))
		for i, p := range payloads {
			strategy, err := parse(p, &reqs[i])
			if err != nil {
				return fmt.Errorf("payload %d: %w", i, err)
			}
			if strategy == utils.StrategyRepaired {
				log.Warn("[CALC] payload repaired before computing", "payload", i)
			}
			if err := cascade.ResolvePresets(&reqs[i], presets); err != nil {
				return fmt.Errorf("payload %d: %w", i, err)
			}
		}
		results, err := cascade.ComputeBatch(context.Background(), reqs, o.workers)
		if err != nil {
			return fmt.Errorf("%s: %w", cascade.Kind(err), err)
		}
		log.Debug("[CALC] computed", "events", len(results))
		return write(out, o.format, results)

	case "check":
		failed := 0
		for i, p := range payloads {
			var res cascade.Result
			if _, err := utils.SmartParse(p, &res); err != nil {
				return fmt.Errorf("payload %d: %w", i, err)
			}
			var tax taxalloc.Classification
			if res.TaxClassification != nil {
				tax = *res.TaxClassification
			}
			v := cascade.Verify(&res, tax)
			if v.IsBalanced {
				fmt.Fprintf(out, "Success: %s reconciles (%s %s)\n", label(res, i), report.Money(res.TotalAmount), res.Currency)
				continue
			}
			failed++
			fmt.Fprintf(out, "Error: %s does not reconcile (gap %s)\n", label(res, i), report.Money(v.Gap))
			for _, w := range v.Warnings {
				fmt.Fprintf(out, "  - %s\n", w)
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d results failed reconciliation", failed, len(payloads))
		}
		return nil
	}
	return fmt.Errorf("unknown mode: %s", o.mode)
}

func readPayloads(o options) ([][]byte, error) {
	var payloads [][]byte
	if o.data != "" {
		payloads = append(payloads, []byte(o.data))
	}
	for _, f := range o.files {
		b, err := os.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", f, err)
		}
		payloads = append(payloads, b)
	}
	return payloads, nil
}

func write(out io.Writer, format string, results []*cascade.Result) error {
	switch format {
	case "markdown":
		for _, r := range results {
			if _, err := io.WriteString(out, report.Markdown(r)+"\n"); err != nil {
				return err
			}
		}
		return nil
	case "html":
		for _, r := range results {
			page, err := report.HTML(r)
			if err != nil {
				return err
			}
			if _, err := io.WriteString(out, page); err != nil {
				return err
			}
		}
		return nil
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if len(results) == 1 {
		return enc.Encode(results[0])
	}
	return enc.Encode(results)
}

func label(r cascade.Result, i int) string {
	if r.EventID != "" {
		return "event " + r.EventID
	}
	return fmt.Sprintf("result %d", i)
}
