package aws

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	ebtypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"

	"github.com/cooodecat/otto-handler/cloud"
)

type EventRules struct {
	client *eventbridge.Client
}

func (e *EventRules) PutRule(ctx context.Context, spec cloud.RuleSpec) (cloud.Rule, error) {
	out, err := e.client.PutRule(ctx, &eventbridge.PutRuleInput{
		Name:         aws.String(spec.Name),
		Description:  aws.String(spec.Description),
		EventPattern: aws.String(spec.EventPattern),
		State:        ebtypes.RuleStateEnabled,
	})
	if err != nil {
		return cloud.Rule{}, fmt.Errorf("failed to create rule %s: %w", spec.Name, translate(err))
	}
	return cloud.Rule{Name: spec.Name, ARN: aws.ToString(out.RuleArn)}, nil
}

func (e *EventRules) PutTarget(ctx context.Context, rule string, target cloud.Target) error {
	t := ebtypes.Target{
		Id:  aws.String(target.ID),
		Arn: aws.String(target.ARN),
	}
	if target.RoleARN != "" {
		t.RoleArn = aws.String(target.RoleARN)
	}

	out, err := e.client.PutTargets(ctx, &eventbridge.PutTargetsInput{
		Rule:    aws.String(rule),
		Targets: []ebtypes.Target{t},
	})
	if err != nil {
		return fmt.Errorf("failed to attach target to rule %s: %w", rule, translate(err))
	}
	if len(out.FailedEntries) > 0 {
		entry := out.FailedEntries[0]
		return fmt.Errorf("failed to attach target to rule %s: %s: %s",
			rule, aws.ToString(entry.ErrorCode), aws.ToString(entry.ErrorMessage))
	}
	return nil
}

// DeleteRule detaches every target first, as a rule with targets cannot be deleted
func (e *EventRules) DeleteRule(ctx context.Context, name string) error {
	targets, err := e.client.ListTargetsByRule(ctx, &eventbridge.ListTargetsByRuleInput{
		Rule: aws.String(name),
	})
	if err != nil {
		return fmt.Errorf("failed to list targets of rule %s: %w", name, translate(err))
	}

	if len(targets.Targets) > 0 {
		ids := make([]string, 0, len(targets.Targets))
		for _, t := range targets.Targets {
			ids = append(ids, aws.ToString(t.Id))
		}
		if _, err := e.client.RemoveTargets(ctx, &eventbridge.RemoveTargetsInput{
			Rule: aws.String(name),
			Ids:  ids,
		}); err != nil {
			err = translate(err)
			if !errors.Is(err, cloud.ErrNotFound) {
				return fmt.Errorf("failed to detach targets from rule %s: %w", name, err)
			}
		}
	}

	if _, err := e.client.DeleteRule(ctx, &eventbridge.DeleteRuleInput{
		Name: aws.String(name),
	}); err != nil {
		return fmt.Errorf("failed to delete rule %s: %w", name, translate(err))
	}
	return nil
}
