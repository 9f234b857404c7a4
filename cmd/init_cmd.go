package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/colmask/colmask/internal/config"
	"github.com/colmask/colmask/internal/dialect"
	"github.com/colmask/colmask/internal/sqlident"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a config file interactively",
	Long: `Asks for the database server and the confidential columns, then writes
the configuration (default ~/.colmask/colmask.yaml). An existing file is kept
unless --force is given.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configPath()
		if _, err := os.Stat(path); err == nil && !initForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}

		p := &prompter{in: bufio.NewReader(cmd.InOrStdin()), out: cmd.OutOrStdout()}
		cfg, err := p.collect()
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("config not saved:\n%w", err)
		}
		if err := cfg.Save(path); err != nil {
			return fmt.Errorf("saving config: %w", err)
		}

		fmt.Fprintf(p.out, "\nConfig written to %s\n\n", path)
		fmt.Fprintln(p.out, "Next steps:")
		fmt.Fprintln(p.out, "  colmask config validate   Check the configuration")
		fmt.Fprintln(p.out, "  colmask scan              Record the column types of a database")
		fmt.Fprintln(p.out, "  colmask                   Choose a database and operation interactively")
		return nil
	},
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing config file")
	rootCmd.AddCommand(initCmd)
}

// prompter asks questions on a line-oriented terminal. Answers that fail
// their check are asked again; end of input aborts.
type prompter struct {
	in  *bufio.Reader
	out io.Writer
}

var errInputClosed = errors.New("input closed before setup finished")

func (p *prompter) ask(label, def string, check func(string) error) (string, error) {
	for {
		if def != "" {
			fmt.Fprintf(p.out, "  %s [%s]: ", label, def)
		} else {
			fmt.Fprintf(p.out, "  %s: ", label)
		}
		line, err := p.in.ReadString('\n')
		if err != nil && (err != io.EOF || line == "") {
			return "", errInputClosed
		}
		answer := strings.TrimSpace(line)
		if answer == "" {
			answer = def
		}
		if check == nil {
			return answer, nil
		}
		if cerr := check(answer); cerr != nil {
			fmt.Fprintf(p.out, "    %v\n", cerr)
			if err == io.EOF {
				return "", errInputClosed
			}
			continue
		}
		return answer, nil
	}
}

func (p *prompter) section(title string) {
	fmt.Fprintf(p.out, "\n%s\n%s\n", title, strings.Repeat("-", len(title)))
}

func (p *prompter) collect() (*config.Config, error) {
	fmt.Fprintln(p.out, "colmask configuration")
	fmt.Fprintln(p.out, "=====================")

	p.section("Database server")
	driver, err := p.ask("Driver ("+strings.Join(dialect.Names(), "/")+")", "sqlserver", func(s string) error {
		_, err := dialect.Get(s)
		return err
	})
	if err != nil {
		return nil, err
	}
	d, _ := dialect.Get(driver)

	host, err := p.ask("Host", "localhost", nil)
	if err != nil {
		return nil, err
	}
	portStr, err := p.ask("Port", defaultPort(d.Name()), func(s string) error {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 || n > 65535 {
			return fmt.Errorf("not a port: %q", s)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	port, _ := strconv.Atoi(portStr)

	database, err := p.ask("Default database (optional)", "", nil)
	if err != nil {
		return nil, err
	}
	schema, err := p.ask("Schema", d.DefaultSchema(), sqlident.ValidateIdentifier)
	if err != nil {
		return nil, err
	}
	username, err := p.ask("Username", "", nil)
	if err != nil {
		return nil, err
	}
	password, err := p.ask("Password (or ${ENV:NAME}, ${VAULT:path#field}, ${AWS_SM:name})", "${ENV:COLMASK_DB_PASSWORD}", nil)
	if err != nil {
		return nil, err
	}

	p.section("Masking")
	cols, err := p.ask("Confidential columns (comma separated)", "", func(s string) error {
		names := splitColumns(s)
		if len(names) == 0 {
			return errors.New("name at least one column")
		}
		for _, n := range names {
			if err := sqlident.ValidateIdentifier(n); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	strategy, err := p.ask("Update strategy (value/row)", "value", func(s string) error {
		if s != "value" && s != "row" {
			return fmt.Errorf("unknown strategy %q", s)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &config.Config{
		Version: config.CurrentVersion,
		Database: config.DatabaseConfig{
			Driver:   d.Name(),
			Host:     host,
			Port:     port,
			Database: database,
			Schema:   schema,
			Username: username,
			Password: password,
		},
		Masking: config.MaskingConfig{
			ConfidentialColumns: splitColumns(cols),
			UpdateStrategy:      strategy,
		},
		Logging: config.LogConfig{Level: "info"},
	}, nil
}

func splitColumns(s string) []string {
	var out []string
	for _, c := range strings.Split(s, ",") {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return out
}

func defaultPort(driver string) string {
	if driver == "postgresql" {
		return "5432"
	}
	return "1433"
}
