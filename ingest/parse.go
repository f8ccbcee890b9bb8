// Package ingest turns raw EventBridge deliveries into build and deploy events.
package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cooodecat/otto-handler/build"
	"github.com/cooodecat/otto-handler/cloud"
	"github.com/cooodecat/otto-handler/deploy"
)

// ErrUnsupportedEvent is returned for deliveries nothing here reacts to.
// Callers acknowledge and ignore them.
var ErrUnsupportedEvent = errors.New("unsupported event")

// ErrMalformedEvent is returned for deliveries that cannot be decoded
var ErrMalformedEvent = errors.New("malformed event")

const (
	DetailECSDeployment    = "ECS Deployment State Change"
	DetailECSServiceAction = "ECS Service Action"
	DetailECSTask          = "ECS Task State Change"
	DetailTargetHealth     = "ELB Target Health State Change"
	DetailCodeBuild        = "CodeBuild Build State Change"
	DetailCloudTrail       = "AWS API Call via CloudTrail"
)

// Envelope is the EventBridge delivery wrapper
type Envelope struct {
	ID         string          `json:"id"`
	DetailType string          `json:"detail-type"`
	Source     string          `json:"source"`
	Time       time.Time       `json:"time"`
	Resources  []string        `json:"resources"`
	Detail     json.RawMessage `json:"detail"`
}

type serviceDetail struct {
	EventName      string `json:"eventName"`
	ServiceName    string `json:"serviceName"`
	TaskDefinition string `json:"taskDefinition"`
	DesiredCount   *int   `json:"desiredCount"`
	RunningCount   *int   `json:"runningCount"`
	PendingCount   *int   `json:"pendingCount"`
}

type cloudTrailDetail struct {
	EventSource       string `json:"eventSource"`
	EventName         string `json:"eventName"`
	RequestParameters struct {
		Service     string `json:"service"`
		ServiceName string `json:"serviceName"`
	} `json:"requestParameters"`
	ResponseElements struct {
		Service *serviceDetail `json:"service"`
	} `json:"responseElements"`
}

type taskDetail struct {
	LastStatus        string `json:"lastStatus"`
	Group             string `json:"group"`
	TaskArn           string `json:"taskArn"`
	TaskDefinitionArn string `json:"taskDefinitionArn"`
	StoppedReason     string `json:"stoppedReason"`
	Containers        []struct {
		Name     string `json:"name"`
		ExitCode *int   `json:"exitCode"`
	} `json:"containers"`
}

type targetHealthDetail struct {
	TargetGroupArn      string `json:"targetGroupArn"`
	LoadBalancerDNSName string `json:"loadBalancerDnsName"`
	Target              struct {
		ID   string `json:"id"`
		Port int    `json:"port"`
	} `json:"target"`
	State  string `json:"state"`
	Reason string `json:"reason"`
}

type codeBuildDetail struct {
	BuildStatus string `json:"build-status"`
	ProjectName string `json:"project-name"`
	BuildID     string `json:"build-id"`
}

// Parse decodes a delivery into one of the deploy events or a
// build.BuildStateChange
func Parse(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: invalid envelope: %v", ErrMalformedEvent, err)
	}

	switch env.DetailType {
	case DetailECSDeployment:
		return parseServiceUpdated(env)
	case DetailCloudTrail:
		return parseCloudTrail(env)
	case DetailECSServiceAction:
		return parseServiceAction(env)
	case DetailECSTask:
		return parseTask(env)
	case DetailTargetHealth:
		return parseTargetHealth(env)
	case DetailCodeBuild:
		return parseCodeBuild(env)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedEvent, env.DetailType)
	}
}

func parseServiceUpdated(env Envelope) (any, error) {
	var d serviceDetail
	if err := decodeDetail(env, &d); err != nil {
		return nil, err
	}
	name := d.ServiceName
	if name == "" {
		name = serviceFromResources(env.Resources)
	}
	return deploy.ServiceUpdated{
		EventID:        env.ID,
		ServiceName:    name,
		TaskDefinition: d.TaskDefinition,
		DesiredCount:   d.DesiredCount,
		RunningCount:   d.RunningCount,
		PendingCount:   d.PendingCount,
		OccurredAt:     env.Time,
	}, nil
}

func parseCloudTrail(env Envelope) (any, error) {
	var d cloudTrailDetail
	if err := decodeDetail(env, &d); err != nil {
		return nil, err
	}
	if d.EventName != "UpdateService" && d.EventName != "CreateService" {
		return nil, fmt.Errorf("%w: api call %q", ErrUnsupportedEvent, d.EventName)
	}

	ev := deploy.ServiceUpdated{EventID: env.ID, OccurredAt: env.Time}
	if svc := d.ResponseElements.Service; svc != nil {
		ev.ServiceName = svc.ServiceName
		ev.TaskDefinition = svc.TaskDefinition
		ev.DesiredCount = svc.DesiredCount
		ev.RunningCount = svc.RunningCount
		ev.PendingCount = svc.PendingCount
	}
	if ev.ServiceName == "" {
		ev.ServiceName = lastSegment(firstNonEmpty(d.RequestParameters.Service, d.RequestParameters.ServiceName))
	}
	return ev, nil
}

func parseServiceAction(env Envelope) (any, error) {
	var d serviceDetail
	if err := decodeDetail(env, &d); err != nil {
		return nil, err
	}
	if d.EventName != "SERVICE_STEADY_STATE" {
		return nil, fmt.Errorf("%w: service action %q", ErrUnsupportedEvent, d.EventName)
	}
	return deploy.ServiceSteadyState{
		EventID:     env.ID,
		ServiceName: serviceFromResources(env.Resources),
		OccurredAt:  env.Time,
	}, nil
}

func parseTask(env Envelope) (any, error) {
	var d taskDetail
	if err := decodeDetail(env, &d); err != nil {
		return nil, err
	}

	switch d.LastStatus {
	case "RUNNING":
		return deploy.TaskRunning{
			EventID:        env.ID,
			Group:          d.Group,
			TaskRef:        d.TaskArn,
			TaskDefinition: d.TaskDefinitionArn,
			OccurredAt:     env.Time,
		}, nil
	case "STOPPED":
		for _, c := range d.Containers {
			if c.ExitCode != nil && *c.ExitCode != 0 {
				return deploy.TaskStopped{
					EventID:        env.ID,
					Group:          d.Group,
					TaskRef:        d.TaskArn,
					TaskDefinition: d.TaskDefinitionArn,
					ExitCode:       c.ExitCode,
					Reason:         d.StoppedReason,
					OccurredAt:     env.Time,
				}, nil
			}
		}
		return nil, fmt.Errorf("%w: task stopped cleanly", ErrUnsupportedEvent)
	default:
		return nil, fmt.Errorf("%w: task status %q", ErrUnsupportedEvent, d.LastStatus)
	}
}

func parseTargetHealth(env Envelope) (any, error) {
	var d targetHealthDetail
	if err := decodeDetail(env, &d); err != nil {
		return nil, err
	}
	return deploy.TargetHealthChanged{
		EventID:         env.ID,
		TargetGroupRef:  d.TargetGroupArn,
		TargetID:        d.Target.ID,
		Port:            d.Target.Port,
		State:           deploy.TargetState(strings.ToLower(d.State)),
		Reason:          d.Reason,
		LoadBalancerDNS: d.LoadBalancerDNSName,
		OccurredAt:      env.Time,
	}, nil
}

func parseCodeBuild(env Envelope) (any, error) {
	var d codeBuildDetail
	if err := decodeDetail(env, &d); err != nil {
		return nil, err
	}
	if d.BuildID == "" {
		return nil, fmt.Errorf("%w: %s without build id", ErrMalformedEvent, DetailCodeBuild)
	}
	return build.BuildStateChange{
		EventID:     env.ID,
		BuildID:     d.BuildID,
		ProjectName: d.ProjectName,
		Status:      cloud.BuildStatus(d.BuildStatus),
		OccurredAt:  env.Time,
	}, nil
}

func decodeDetail(env Envelope, v any) error {
	if len(env.Detail) == 0 {
		return fmt.Errorf("%w: %s without detail", ErrMalformedEvent, env.DetailType)
	}
	if err := json.Unmarshal(env.Detail, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedEvent, env.DetailType, err)
	}
	return nil
}

// serviceFromResources picks the service name out of the first service ARN
func serviceFromResources(resources []string) string {
	for _, r := range resources {
		if strings.Contains(r, ":service/") {
			return lastSegment(r)
		}
	}
	return ""
}

func lastSegment(ref string) string {
	if i := strings.LastIndex(ref, "/"); i >= 0 {
		return ref[i+1:]
	}
	return ref
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
