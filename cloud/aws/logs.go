package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
)

type LogGroups struct {
	client *cloudwatchlogs.Client
}

func (l *LogGroups) CreateLogGroup(ctx context.Context, name string) error {
	if _, err := l.client.CreateLogGroup(ctx, &cloudwatchlogs.CreateLogGroupInput{
		LogGroupName: aws.String(name),
	}); err != nil {
		return fmt.Errorf("failed to create log group %s: %w", name, translate(err))
	}
	return nil
}

func (l *LogGroups) DeleteLogGroup(ctx context.Context, name string) error {
	if _, err := l.client.DeleteLogGroup(ctx, &cloudwatchlogs.DeleteLogGroupInput{
		LogGroupName: aws.String(name),
	}); err != nil {
		return fmt.Errorf("failed to delete log group %s: %w", name, translate(err))
	}
	return nil
}
