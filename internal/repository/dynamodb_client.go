package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"support-chain/internal/domain"
)

const (
	skMeta        = "META#"
	skPrefixStage = "STAGE#"
	ttlDuration   = 30 * 24 * time.Hour // 30-day TTL
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// RunStore defines the run history operations consumed by the chain and the HTTP surfaces.
type RunStore interface {
	SaveRun(ctx context.Context, run domain.Run) error
	GetRun(ctx context.Context, runID string) (domain.Run, error)
}

// Client wraps a DynamoDB table holding completed chain runs. Each run is one
// META# item plus one STAGE#n item per stage output, under a shared RUN# key.
type Client struct {
	api       dynamodbAPI
	tableName string
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName}, nil
}

func runPK(runID string) string {
	return "RUN#" + runID
}

func stageSK(stage domain.Stage) string {
	return fmt.Sprintf("%s%d", skPrefixStage, int(stage))
}

// ttlValue returns a Unix timestamp 30 days after now.
func ttlValue(now time.Time) int64 {
	return now.Add(ttlDuration).Unix()
}

// SaveRun writes the run metadata and every stage output in one transaction.
// A run id can only be written once.
func (c *Client) SaveRun(ctx context.Context, run domain.Run) error {
	if strings.TrimSpace(run.RunID) == "" {
		return errors.New("repository: SaveRun: run id is required")
	}
	if len(run.Outputs) != domain.StageCount {
		return fmt.Errorf("repository: SaveRun: expected %d stage outputs, got %d", domain.StageCount, len(run.Outputs))
	}
	run.PK = runPK(run.RunID)
	run.SK = skMeta
	if run.TTL == 0 {
		run.TTL = ttlValue(time.Now())
	}

	items := make([]types.TransactWriteItem, 0, domain.StageCount+1)
	items = append(items, types.TransactWriteItem{
		Put: &types.Put{
			TableName:           aws.String(c.tableName),
			Item:                metaItem(run),
			ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
		},
	})
	for i, out := range run.Outputs {
		items = append(items, types.TransactWriteItem{
			Put: &types.Put{
				TableName: aws.String(c.tableName),
				Item:      stageItem(run, domain.Stage(i+1), out),
			},
		})
	}

	_, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	if err != nil {
		return fmt.Errorf("repository: SaveRun: %w", err)
	}
	return nil
}

// GetRun loads a stored run. It returns domain.ErrRunNotFound when the table
// holds no metadata item for runID.
func (c *Client) GetRun(ctx context.Context, runID string) (domain.Run, error) {
	if strings.TrimSpace(runID) == "" {
		return domain.Run{}, fmt.Errorf("repository: GetRun: %w", domain.ErrRunNotFound)
	}

	out, err := c.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: runPK(runID)},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.Run{}, fmt.Errorf("repository: GetRun query: %w", err)
	}
	if out == nil || len(out.Items) == 0 {
		return domain.Run{}, fmt.Errorf("repository: GetRun %q: %w", runID, domain.ErrRunNotFound)
	}

	run, err := itemsToRun(out.Items)
	if err != nil {
		return domain.Run{}, fmt.Errorf("repository: GetRun unmarshal: %w", err)
	}
	return run, nil
}

type stageRecord struct {
	stage  int
	output string
}

func itemsToRun(items []map[string]types.AttributeValue) (domain.Run, error) {
	var (
		run     domain.Run
		hasMeta bool
		stages  []stageRecord
	)
	for _, item := range items {
		sk, err := strAttr(item, "SK")
		if err != nil {
			return domain.Run{}, err
		}
		switch {
		case sk == skMeta:
			if run, err = itemToMeta(item); err != nil {
				return domain.Run{}, err
			}
			hasMeta = true
		case strings.HasPrefix(sk, skPrefixStage):
			stage, err := intAttr(item, "stage")
			if err != nil {
				return domain.Run{}, err
			}
			output, err := strAttr(item, "output")
			if err != nil {
				return domain.Run{}, err
			}
			stages = append(stages, stageRecord{stage: stage, output: output})
		}
	}
	if !hasMeta {
		return domain.Run{}, domain.ErrRunNotFound
	}
	if len(stages) != domain.StageCount {
		return domain.Run{}, fmt.Errorf("repository: run %q has %d stage items", run.RunID, len(stages))
	}

	sort.Slice(stages, func(i, j int) bool { return stages[i].stage < stages[j].stage })
	run.Outputs = make([]string, 0, len(stages))
	for i, s := range stages {
		if s.stage != i+1 {
			return domain.Run{}, fmt.Errorf("repository: run %q is missing stage %d", run.RunID, i+1)
		}
		run.Outputs = append(run.Outputs, s.output)
	}
	return run, nil
}

func itemToMeta(item map[string]types.AttributeValue) (domain.Run, error) {
	pk, err := strAttr(item, "PK")
	if err != nil {
		return domain.Run{}, err
	}
	runID, err := strAttr(item, "runId")
	if err != nil {
		return domain.Run{}, err
	}
	query, err := strAttr(item, "query")
	if err != nil {
		return domain.Run{}, err
	}
	model, _ := strAttr(item, "model") // allow empty
	completedAt, _ := strAttr(item, "completedAt")
	ttl, _ := intAttr(item, "ttl")

	return domain.Run{
		PK:          pk,
		SK:          skMeta,
		RunID:       runID,
		Query:       query,
		Model:       model,
		CompletedAt: completedAt,
		TTL:         int64(ttl),
	}, nil
}

func metaItem(run domain.Run) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":          &types.AttributeValueMemberS{Value: run.PK},
		"SK":          &types.AttributeValueMemberS{Value: run.SK},
		"runId":       &types.AttributeValueMemberS{Value: run.RunID},
		"query":       &types.AttributeValueMemberS{Value: run.Query},
		"model":       &types.AttributeValueMemberS{Value: run.Model},
		"completedAt": &types.AttributeValueMemberS{Value: run.CompletedAt},
		"ttl":         &types.AttributeValueMemberN{Value: strconv.FormatInt(run.TTL, 10)},
	}
}

func stageItem(run domain.Run, stage domain.Stage, output string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":     &types.AttributeValueMemberS{Value: run.PK},
		"SK":     &types.AttributeValueMemberS{Value: stageSK(stage)},
		"runId":  &types.AttributeValueMemberS{Value: run.RunID},
		"stage":  &types.AttributeValueMemberN{Value: strconv.Itoa(int(stage))},
		"name":   &types.AttributeValueMemberS{Value: stage.String()},
		"output": &types.AttributeValueMemberS{Value: output},
		"ttl":    &types.AttributeValueMemberN{Value: strconv.FormatInt(run.TTL, 10)},
	}
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func intAttr(item map[string]types.AttributeValue, key string) (int, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.Atoi(n.Value)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}
