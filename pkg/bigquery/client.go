package bigquery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/threadline/shopfront-backend/pkg/config"
	"github.com/threadline/shopfront-backend/pkg/logger"
)

const metadataCheckTimeout = 10 * time.Second

var (
	errProjectIDRequired    = errors.New("gcp project id is required")
	errDatasetRequired      = errors.New("bigquery dataset is required")
	errTableNameRequired    = errors.New("bigquery table name is required")
	errClientNotInitialized = errors.New("bigquery client not initialized")
)

// TableSpec declares a table the service streams into. Schema lists the
// columns the service writes; an existing table must carry all of them.
type TableSpec struct {
	Name           string
	Schema         bigquery.Schema
	PartitionField string
	Clustering     []string
}

// Client streams analytics rows into one dataset.
type Client struct {
	client     *bigquery.Client
	dataset    *bigquery.Dataset
	tables     map[string]TableSpec
	autoCreate bool
}

// NewClient connects to the dataset and checks every declared table, creating
// missing ones when cfg.AutoCreateTables is set.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.BigQueryConfig, logg *logger.Logger, specs ...TableSpec) (*Client, error) {
	projectID := strings.TrimSpace(gcp.ProjectID)
	if projectID == "" {
		return nil, errProjectIDRequired
	}
	datasetID := strings.TrimSpace(cfg.Dataset)
	if datasetID == "" {
		return nil, errDatasetRequired
	}
	tables, err := indexTables(specs)
	if err != nil {
		return nil, err
	}

	bqClient, err := bigquery.NewClient(ctx, projectID, clientOptions(gcp)...)
	if err != nil {
		return nil, fmt.Errorf("creating bigquery client: %w", err)
	}

	client := &Client{
		client:     bqClient,
		dataset:    bqClient.Dataset(datasetID),
		tables:     tables,
		autoCreate: cfg.AutoCreateTables,
	}
	if err := client.ensureTables(ctx); err != nil {
		_ = bqClient.Close()
		return nil, err
	}

	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{"dataset": datasetID, "tables": len(tables)}), "bigquery client initialized")
	}
	return client, nil
}

func indexTables(specs []TableSpec) (map[string]TableSpec, error) {
	if len(specs) == 0 {
		return nil, errTableNameRequired
	}
	tables := make(map[string]TableSpec, len(specs))
	for _, spec := range specs {
		spec.Name = strings.TrimSpace(spec.Name)
		if spec.Name == "" {
			return nil, errTableNameRequired
		}
		if len(spec.Schema) == 0 {
			return nil, fmt.Errorf("table %q has no schema", spec.Name)
		}
		tables[spec.Name] = spec
	}
	return tables, nil
}

func clientOptions(gcp config.GCPConfig) []option.ClientOption {
	switch {
	case strings.TrimSpace(gcp.CredentialsJSON) != "":
		return []option.ClientOption{option.WithCredentialsJSON([]byte(gcp.CredentialsJSON))}
	case strings.TrimSpace(gcp.ApplicationCredentials) != "":
		return []option.ClientOption{option.WithCredentialsFile(gcp.ApplicationCredentials)}
	default:
		return nil
	}
}

func (c *Client) ensureTables(ctx context.Context) error {
	if c == nil || c.dataset == nil {
		return errClientNotInitialized
	}
	ctx, cancel := context.WithTimeout(ctx, metadataCheckTimeout)
	defer cancel()

	if _, err := c.dataset.Metadata(ctx); err != nil {
		if isNotFound(err) {
			return fmt.Errorf("dataset %q does not exist", c.dataset.DatasetID)
		}
		return fmt.Errorf("checking dataset %q: %w", c.dataset.DatasetID, err)
	}

	for _, spec := range c.tables {
		table := c.dataset.Table(spec.Name)
		meta, err := table.Metadata(ctx)
		switch {
		case err == nil:
			if missing := missingColumns(spec.Schema, meta.Schema); len(missing) > 0 {
				return fmt.Errorf("table %q is missing columns %v", spec.Name, missing)
			}
		case isNotFound(err) && c.autoCreate:
			if err := table.Create(ctx, tableMetadata(spec)); err != nil {
				return fmt.Errorf("creating table %q: %w", spec.Name, err)
			}
		case isNotFound(err):
			return fmt.Errorf("table %q does not exist", spec.Name)
		default:
			return fmt.Errorf("checking table %q: %w", spec.Name, err)
		}
	}
	return nil
}

func tableMetadata(spec TableSpec) *bigquery.TableMetadata {
	meta := &bigquery.TableMetadata{Schema: spec.Schema}
	if spec.PartitionField != "" {
		meta.TimePartitioning = &bigquery.TimePartitioning{Type: bigquery.DayPartitioningType, Field: spec.PartitionField}
	}
	if len(spec.Clustering) > 0 {
		meta.Clustering = &bigquery.Clustering{Fields: spec.Clustering}
	}
	return meta
}

// missingColumns lists top-level fields of want absent from have.
func missingColumns(want, have bigquery.Schema) []string {
	present := make(map[string]struct{}, len(have))
	for _, field := range have {
		present[strings.ToLower(field.Name)] = struct{}{}
	}
	var missing []string
	for _, field := range want {
		if _, ok := present[strings.ToLower(field.Name)]; !ok {
			missing = append(missing, field.Name)
		}
	}
	sort.Strings(missing)
	return missing
}

// Ping re-checks the dataset and declared tables.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil {
		return errClientNotInitialized
	}
	return c.ensureTables(ctx)
}

// InsertRows streams rows into a declared table. Row-level rejections come
// back as bigquery.PutMultiError indexed against rows.
func (c *Client) InsertRows(ctx context.Context, table string, rows []bigquery.ValueSaver) error {
	if c == nil || c.client == nil {
		return errClientNotInitialized
	}
	name := strings.TrimSpace(table)
	if _, ok := c.tables[name]; !ok {
		return fmt.Errorf("table %q is not declared", name)
	}
	if len(rows) == 0 {
		return nil
	}
	return c.dataset.Table(name).Inserter().Put(ctx, rows)
}

// Close releases the BigQuery client.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

func isNotFound(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound
}
