package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
)

// DynamoDBAPI is the subset of the DynamoDB client used here
type DynamoDBAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// TableWriter marshals Go values into a single DynamoDB table
type TableWriter struct {
	client DynamoDBAPI
	table  string
}

// NewTableWriter creates a writer for table. A nil client is built from awsCfg.
func NewTableWriter(awsCfg aws.Config, client DynamoDBAPI, table string) *TableWriter {
	if client == nil {
		client = dynamodb.NewFromConfig(awsCfg)
	}
	return &TableWriter{client: client, table: table}
}

// Put writes item, which must marshal to a map with the table's key attributes.
func (w *TableWriter) Put(ctx context.Context, item any) error {
	attrs, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("failed to marshal item: %w", err)
	}

	_, err = w.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(w.table),
		Item:      attrs,
	})
	if err != nil {
		return fmt.Errorf("failed to put item in %s: %w", w.table, err)
	}
	return nil
}

// Table returns the table name
func (w *TableWriter) Table() string {
	return w.table
}
