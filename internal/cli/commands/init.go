package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

const configTemplate = `# datalign project configuration
policies_dir: policies
inbox: inbox
state_path: .datalign/state.db

# Uncomment to publish reconciled surfaces to a warehouse:
# warehouse:
#   type: duckdb
#   path: warehouse.db
#   schema: main
`

const customerPolicyTemplate = `entity_type: customer
kind: dimension
primary_source: crm
fallback_source: erp
rule: MERGE_FIELDS
key_fields:
  crm: [customer_id]
  erp: [customer_id]
tracked_fields: [name, email, phone, segment]
quality:
  - field: customer_id
    required: true
    weight: 40
  - field: email
    expr: '"@" in value'
    weight: 30
  - field: segment
    allowed: [enterprise, mid-market, smb]
    weight: 30
`

const orderPolicyTemplate = `entity_type: order
kind: process
depends_on: [customer]
primary_source: oms
rule: SINGLE_SOURCE
key_fields:
  oms: [order_id, event_type]
milestones:
  ordered: [placed, paid, shipped, delivered]
  terminal: delivered
  id_field: order_id
  milestone_field: event_type
  time_field: event_time
  durations:
    fulfillment:
      from: placed
      to: delivered
`

const crmCustomersCSV = `customer_id,name,email,segment
C-1001,Acme Corp,ops@acme.example,enterprise
C-1002,Globex,it@globex.example,mid-market
`

const erpCustomersCSV = `customer_id,name,email,phone
C-1001,Acme Corporation,billing@acme.example,+1-555-0100
C-1003,Initech,admin@initech.example,+1-555-0199
`

const omsOrdersCSV = `order_id,event_type,event_time,amount
O-2001,placed,2024-03-01T09:00:00Z,149.00
O-2001,paid,2024-03-01T09:05:00Z,149.00
O-2002,placed,2024-03-01T11:30:00Z,89.50
`

// NewInitCommand creates the init command.
func NewInitCommand() *cobra.Command {
	var force bool
	var example bool

	cmd := &cobra.Command{
		Use:   "init [directory]",
		Short: "Initialize a new datalign project",
		Long: `Initialize a new datalign project with the default layout.

This creates:
  - policies/ directory for entity policy documents
  - inbox/ directory for incoming source extracts
  - datalign.yaml configuration file

Use --example to also write sample policies (a customer dimension and
an order fulfillment process) plus matching inbox extracts.`,
		Example: `  # Initialize in the current directory
  datalign init

  # Initialize a new directory with a working example
  datalign init my-project --example`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}
			return runInit(cmd, dir, force, example)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing configuration")
	cmd.Flags().BoolVar(&example, "example", false, "Include sample policies and inbox extracts")

	return cmd
}

func runInit(cmd *cobra.Command, dir string, force, example bool) error {
	if dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	configPath := filepath.Join(dir, "datalign.yaml")
	if _, err := os.Stat(configPath); err == nil && !force {
		return fmt.Errorf("datalign.yaml already exists. Use --force to overwrite")
	}

	files := map[string]string{
		configPath: configTemplate,
	}
	dirs := []string{
		filepath.Join(dir, "policies"),
		filepath.Join(dir, "inbox"),
	}

	if example {
		files[filepath.Join(dir, "policies", "customer.yaml")] = customerPolicyTemplate
		files[filepath.Join(dir, "policies", "order.yaml")] = orderPolicyTemplate
		files[filepath.Join(dir, "inbox", "crm", "customer.csv")] = crmCustomersCSV
		files[filepath.Join(dir, "inbox", "erp", "customer.csv")] = erpCustomersCSV
		files[filepath.Join(dir, "inbox", "oms", "order.csv")] = omsOrdersCSV
		dirs = append(dirs,
			filepath.Join(dir, "inbox", "crm"),
			filepath.Join(dir, "inbox", "erp"),
			filepath.Join(dir, "inbox", "oms"),
		)
	}

	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o750); err != nil {
			return fmt.Errorf("failed to create %s: %w", d, err)
		}
	}
	for path, content := range files {
		if _, err := os.Stat(path); err == nil && !force {
			continue
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "datalign project initialized!")
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Next steps:")
	fmt.Fprintln(out, "  1. Define entity policies in policies/")
	fmt.Fprintln(out, "  2. Drop source extracts into inbox/<source>/<entity>.csv")
	fmt.Fprintln(out, "  3. Run 'datalign run --land' to reconcile a batch")
	fmt.Fprintln(out, "  4. Run 'datalign history <entity> --current' to inspect results")

	return nil
}
