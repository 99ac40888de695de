// Package cli parses the pmedians command line.
//
// The grammar is positional: an instance source first (-file, -values or
// -default), then any optional flags, then an optional help flag. Arguments
// left over after that are a usage error.
package cli

import (
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"pmedians/internal/formulation"
	"pmedians/internal/instance"
	"pmedians/internal/mip"
)

// ErrUsage reports a malformed command line.
var ErrUsage = errors.New("usage error")

// maxSeconds is the longest -runtime a time.Duration can hold.
const maxSeconds = float64(math.MaxInt64 / int64(time.Second))

// Source is where the instance configuration came from.
type Source int

const (
	SourceNone Source = iota
	SourceFile
	SourceValues
	SourceDefault
)

func (s Source) String() string {
	switch s {
	case SourceFile:
		return "file"
	case SourceValues:
		return "values"
	case SourceDefault:
		return "default"
	default:
		return "none"
	}
}

// Options is a parsed command line.
type Options struct {
	Source Source
	// Path is the instance file for SourceFile.
	Path   string
	Config instance.Config
	// SeedSet reports an explicit -rng.
	SeedSet bool
	// DrawDir receives the model artifacts when set.
	DrawDir string
	// TimeLimit is zero when no -runtime was given.
	TimeLimit      time.Duration
	ResultsPath    string
	CompletionMode formulation.CompletionMode
	// MaxVars refuses larger models; 0 disables the check.
	MaxVars int
	Help    bool
}

// Parser walks an argument list once. A Parser is single use.
type Parser struct {
	args []string
	pos  int
	// Load reads an instance file; nil uses instance.LoadFile.
	Load func(path string) (instance.Config, error)
}

func NewParser(args []string) *Parser {
	return &Parser{args: args, Load: instance.LoadFile}
}

// Parse parses args (without the program name).
func Parse(args []string) (Options, error) {
	return NewParser(args).Parse()
}

func (p *Parser) Parse() (Options, error) {
	opts := Options{MaxVars: mip.MaxDenseVars}
	if err := p.parseSource(&opts); err != nil {
		return opts, err
	}
	if err := p.parseOptional(&opts); err != nil {
		return opts, err
	}
	if p.more() && isHelp(p.peek()) {
		opts.Help = true
		p.pos++
	}
	if p.more() {
		return opts, usagef("unexpected arguments %q", strings.Join(p.args[p.pos:], " "))
	}
	if opts.Source == SourceNone && !opts.Help {
		return opts, usagef("no instance configuration given")
	}
	return opts, nil
}

func (p *Parser) more() bool   { return p.pos < len(p.args) }
func (p *Parser) peek() string { return p.args[p.pos] }

// value consumes the argument following flag.
func (p *Parser) value(flag string) (string, error) {
	p.pos++
	if !p.more() {
		return "", usagef("%s needs a value", flag)
	}
	v := p.peek()
	p.pos++
	return v, nil
}

func (p *Parser) parseSource(opts *Options) error {
	if !p.more() {
		return nil
	}
	switch flag := p.peek(); flag {
	case "-file", "-f":
		path, err := p.value(flag)
		if err != nil {
			return err
		}
		load := p.Load
		if load == nil {
			load = instance.LoadFile
		}
		cfg, err := load(path)
		if err != nil {
			return fmt.Errorf("%s %s: %w", flag, path, err)
		}
		opts.Source, opts.Path, opts.Config = SourceFile, path, cfg
	case "-values", "-val":
		p.pos++
		start := p.pos
		for p.more() && !strings.HasPrefix(p.peek(), "-") {
			p.pos++
		}
		cfg, err := instance.ParseValues(p.args[start:p.pos])
		if err != nil {
			return fmt.Errorf("%s: %w", flag, err)
		}
		opts.Source, opts.Config = SourceValues, cfg
	case "-default", "-dflt":
		p.pos++
		opts.Source, opts.Config = SourceDefault, instance.DefaultConfig()
	}
	return nil
}

func (p *Parser) parseOptional(opts *Options) error {
	for p.more() {
		flag := p.peek()
		switch flag {
		case "-rng", "-randomseed", "-draw", "-runtime", "-o", "-output", "-completion", "-maxvars":
		default:
			return nil
		}
		if opts.Source == SourceNone {
			return usagef("%s: no instance configuration given", flag)
		}
		v, err := p.value(flag)
		if err != nil {
			return err
		}
		switch flag {
		case "-rng", "-randomseed":
			seed, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return usagef("%s: %q is not an integer", flag, v)
			}
			opts.Config.Seed, opts.SeedSet = seed, true
		case "-draw":
			opts.DrawDir = v
		case "-runtime":
			secs, err := strconv.ParseFloat(v, 64)
			if err != nil || math.IsNaN(secs) || secs < 0 {
				return usagef("%s: %q is not a number of seconds", flag, v)
			}
			if secs > maxSeconds {
				return usagef("%s: %q is more than %g seconds", flag, v, maxSeconds)
			}
			opts.TimeLimit = time.Duration(secs * float64(time.Second))
		case "-maxvars":
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				return usagef("%s: %q is not a non-negative integer", flag, v)
			}
			opts.MaxVars = n
		case "-o", "-output":
			opts.ResultsPath = v
		case "-completion":
			mode, err := formulation.ParseCompletionMode(v)
			if err != nil {
				return usagef("%s: %v", flag, err)
			}
			opts.CompletionMode = mode
		}
	}
	return nil
}

func isHelp(arg string) bool {
	switch arg {
	case "-help", "-h", "-?":
		return true
	}
	return false
}

func usagef(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUsage, fmt.Sprintf(format, args...))
}

// WriteUsage prints the help text.
func WriteUsage(w io.Writer) {
	fmt.Fprintf(w, `usage: pmedians [-file <path> | -values <10 values> | -default] [-rng <seed>]
                [-draw <dir>] [-runtime <seconds>] [-o <results.csv>]
                [-completion exact|indicator] [-maxvars <n>] [-help]

instance source (one of, first):
  -file (-f) <path>        instance file: 11 lines in the order below plus the
                           seed, or a .yaml/.yml document
  -values (-val) <...>     10 values, in order:
                             time periods (int)
                             max operating depots per period (int)
                             max customers per depot (int)
                             depot usage cost (float)
                             number of depots (int)
                             number of customers (int)
                             depot exclusion radius (int)
                             number of priority groups (int, 0 disables)
                             board x dimension (int)
                             board y dimension (int)
  -default (-dflt)         built-in default instance

optional, after the source:
  -randomseed (-rng) <n>   generator seed (default 1000)
  -draw <dir>              write the model (.lp), solution (.sol) and, when
                           infeasible, the conflicting subsystem (.ilp) to dir
  -runtime <seconds>       solver time limit (default unlimited)
  -output (-o) <path>      append objVal,objBound,gap,runtime,nodes,vars,constrs
                           to a CSV results log
  -completion <mode>       group completion: exact (default) or indicator
  -maxvars <n>             refuse models with more than n variables
                           (default %d, the size the built-in solver handles;
                           0 disables the check)

  -help (-h, -?)           show this message
`, mip.MaxDenseVars)
}
