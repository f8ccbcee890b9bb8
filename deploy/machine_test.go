package deploy

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cooodecat/otto-handler/domain"
	"github.com/cooodecat/otto-handler/repository"
	"github.com/cooodecat/otto-handler/testing/testdb"
)

// historyRepository records every successful conditional write
type historyRepository struct {
	repository.DeploymentRepository

	mu      sync.Mutex
	history []domain.Deployment
}

func (r *historyRepository) CompareAndSwap(d *domain.Deployment) error {
	if err := r.DeploymentRepository.CompareAndSwap(d); err != nil {
		return err
	}
	r.mu.Lock()
	r.history = append(r.history, *d)
	r.mu.Unlock()
	return nil
}

func (r *historyRepository) writes() []domain.Deployment {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := append([]domain.Deployment(nil), r.history...)
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out
}

type countingNotifier struct {
	calls atomic.Int32
}

func (n *countingNotifier) DeploymentSucceeded(context.Context, *domain.Deployment) error {
	n.calls.Add(1)
	return nil
}

func newTestMachine(t *testing.T) (*Machine, *historyRepository, *countingNotifier) {
	t.Helper()
	repo := &historyRepository{DeploymentRepository: repository.NewDeploymentRepository(testdb.New(t))}
	notifier := &countingNotifier{}
	m := NewMachine(repo, notifier)
	m.clock = func() time.Time { return testNow }
	return m, repo, notifier
}

func seedDeployment(t *testing.T, repo repository.DeploymentRepository, mutate func(*domain.Deployment)) *domain.Deployment {
	t.Helper()
	d := domain.NewDeployment("pipe-1", "proj-1", "user-1", domain.DeploymentTypeInitial)
	if mutate != nil {
		mutate(&d)
	}
	require.NoError(t, repo.Create(&d))
	return &d
}

func TestMachine_HappyPath(t *testing.T) {
	m, repo, notifier := newTestMachine(t)
	ctx := context.Background()
	seeded := seedDeployment(t, repo, nil)

	d, err := m.Start(ctx, seeded.ID, "arn:aws:ecs:eu-west-1:123:service/otto/service-pipe-1", "repo:tag-1")
	require.NoError(t, err)
	assert.Equal(t, domain.DeploymentStatusInProgress, d.Status)

	d, err = m.Handle(ctx, ServiceUpdated{EventID: "e1", ServiceName: "service-pipe-1", TaskDefinition: "otto:7", DesiredCount: intPtr(1)})
	require.NoError(t, err)
	assert.Equal(t, domain.DeploymentStatusDeployingECS, d.Status)

	_, err = m.Handle(ctx, TaskRunning{EventID: "e2", Group: "service:service-pipe-1", TaskRef: "task/abc"})
	require.NoError(t, err)

	d, err = m.Handle(ctx, ServiceSteadyState{EventID: "e3", ServiceName: "service-pipe-1"})
	require.NoError(t, err)
	assert.Equal(t, domain.DeploymentStatusConfiguringALB, d.Status)

	d, err = m.AwaitHealthCheck(ctx, seeded.ID, "arn:tg/otto", "arn:lb/otto", "otto.elb.amazonaws.com")
	require.NoError(t, err)
	assert.Equal(t, domain.DeploymentStatusWaitingHealthCheck, d.Status)

	d, err = m.Handle(ctx, TargetHealthChanged{EventID: "e4", TargetGroupRef: "arn:tg/otto", TargetID: "10.0.0.5", State: TargetHealthy})
	require.NoError(t, err)
	assert.Equal(t, domain.DeploymentStatusSuccess, d.Status)
	assert.Equal(t, "http://otto.elb.amazonaws.com", d.DeployURL)
	assert.EqualValues(t, 1, notifier.calls.Load())

	stored, err := repo.FindByID(seeded.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DeploymentStatusSuccess, stored.Status)
	assert.Equal(t, "otto:7", stored.Metadata.TaskDefinition)
	assert.Len(t, stored.Metadata.RunningTasks, 1)
	assert.Len(t, stored.Metadata.HealthyTargets, 1)
	assert.NotNil(t, stored.Metadata.SteadyStateAt)
	assert.NotNil(t, stored.DeployedAt)

	// a late event does not move a finished deployment
	_, err = m.Handle(ctx, ServiceUpdated{EventID: "e5", ServiceName: "service-pipe-1"})
	assert.ErrorIs(t, err, ErrCorrelationMiss)
}

func TestMachine_ConcurrentHealthyTargetsCompleteOnce(t *testing.T) {
	m, repo, notifier := newTestMachine(t)
	seeded := seedDeployment(t, repo, func(d *domain.Deployment) {
		d.Status = domain.DeploymentStatusWaitingHealthCheck
		d.TargetGroupRef = "arn:tg/otto"
		d.Metadata.Extra = map[string]any{MetaLoadBalancerDNS: "otto.elb.amazonaws.com"}
	})

	var wg sync.WaitGroup
	errs := make(chan error, 5)
	for i := 0; i < 5; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Handle(context.Background(), TargetHealthChanged{
				EventID:        fmt.Sprintf("evt-%d", i),
				TargetGroupRef: "arn:tg/otto",
				TargetID:       fmt.Sprintf("10.0.0.%d", i),
				State:          TargetHealthy,
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		// events arriving after completion no longer correlate
		if err != nil {
			assert.ErrorIs(t, err, ErrCorrelationMiss)
		}
	}

	assert.EqualValues(t, 1, notifier.calls.Load())

	successes, urlWrites := 0, 0
	prev := *seeded
	for _, w := range repo.writes() {
		if w.Status == domain.DeploymentStatusSuccess && prev.Status != domain.DeploymentStatusSuccess {
			successes++
		}
		if w.DeployURL != prev.DeployURL {
			urlWrites++
		}
		prev = w
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, urlWrites)

	stored, err := repo.FindByID(seeded.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DeploymentStatusSuccess, stored.Status)
	assert.Equal(t, "http://otto.elb.amazonaws.com", stored.DeployURL)
	assert.NotEmpty(t, stored.Metadata.HealthyTargets)
}

func TestMachine_RedeliveryIsIdempotent(t *testing.T) {
	m, repo, _ := newTestMachine(t)
	seeded := seedDeployment(t, repo, func(d *domain.Deployment) {
		d.Status = domain.DeploymentStatusDeployingECS
	})

	ev := TaskRunning{EventID: "evt-1", Group: "service:service-pipe-1", TaskRef: "task/1"}
	for n := 0; n < 3; n++ {
		_, err := m.Handle(context.Background(), ev)
		require.NoError(t, err)
	}

	stored, err := repo.FindByID(seeded.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Metadata.RunningTasks, 1)
}

func TestMachine_TaskGroupMustNameService(t *testing.T) {
	m, repo, _ := newTestMachine(t)
	seeded := seedDeployment(t, repo, func(d *domain.Deployment) {
		d.Status = domain.DeploymentStatusDeployingECS
	})

	for _, group := range []string{"family:service-pipe-1", "service-pipe-1", "service:", ""} {
		_, err := m.Handle(context.Background(), TaskStopped{
			EventID:  "evt-" + group,
			Group:    group,
			ExitCode: intPtr(1),
		})
		assert.ErrorIs(t, err, ErrCorrelationMiss, group)
	}

	stored, err := repo.FindByID(seeded.ID)
	require.NoError(t, err)
	assert.Equal(t, seeded.Version, stored.Version)
	assert.Empty(t, stored.Metadata.StoppedTasks)
	assert.Empty(t, repo.writes())
}

func TestMachine_CorrelationPrefersMostRecent(t *testing.T) {
	m, repo, _ := newTestMachine(t)
	older := seedDeployment(t, repo, func(d *domain.Deployment) {
		d.PipelineID = "pipe-a"
		d.Status = domain.DeploymentStatusInProgress
		d.OrchestratorServiceRef = "arn:aws:ecs:eu-west-1:123:service/otto/shared-svc"
		d.CreatedAt = testNow.Add(-time.Hour)
	})
	newer := seedDeployment(t, repo, func(d *domain.Deployment) {
		d.PipelineID = "pipe-b"
		d.Status = domain.DeploymentStatusInProgress
		d.OrchestratorServiceRef = "arn:aws:ecs:eu-west-1:123:service/otto/shared-svc"
		d.CreatedAt = testNow
	})

	d, err := m.Handle(context.Background(), ServiceUpdated{EventID: "e1", ServiceName: "shared-svc"})
	require.NoError(t, err)
	assert.Equal(t, newer.ID, d.ID)

	stored, err := repo.FindByID(older.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DeploymentStatusInProgress, stored.Status)
}

func TestMachine_ServiceCorrelationMatchesWholeNames(t *testing.T) {
	tests := []struct {
		name        string
		seeded      func(*domain.Deployment)
		serviceName string
		wantMatch   bool
	}{
		{
			name:        "pipeline id prefix of another pipeline",
			seeded:      func(d *domain.Deployment) { d.PipelineID = "1" },
			serviceName: "service-12",
		},
		{
			name:        "pipeline pattern inside arn",
			seeded:      func(d *domain.Deployment) { d.PipelineID = "12" },
			serviceName: "arn:aws:ecs:eu-west-1:123:service/otto/service-12",
			wantMatch:   true,
		},
		{
			name: "service name prefix of stored ref",
			seeded: func(d *domain.Deployment) {
				d.OrchestratorServiceRef = "arn:aws:ecs:eu-west-1:123:service/otto/api-v2"
			},
			serviceName: "api",
		},
		{
			name: "stored ref prefix of service name",
			seeded: func(d *domain.Deployment) {
				d.OrchestratorServiceRef = "api"
			},
			serviceName: "api-v2",
		},
		{
			name: "stored arn and bare service name",
			seeded: func(d *domain.Deployment) {
				d.OrchestratorServiceRef = "arn:aws:ecs:eu-west-1:123:service/otto/api-v2"
			},
			serviceName: "api-v2",
			wantMatch:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, repo, _ := newTestMachine(t)
			seeded := seedDeployment(t, repo, func(d *domain.Deployment) {
				d.Status = domain.DeploymentStatusInProgress
				tt.seeded(d)
			})

			d, err := m.Handle(context.Background(), ServiceUpdated{EventID: "e1", ServiceName: tt.serviceName})
			if !tt.wantMatch {
				assert.ErrorIs(t, err, ErrCorrelationMiss)
				stored, err := repo.FindByID(seeded.ID)
				require.NoError(t, err)
				assert.Equal(t, domain.DeploymentStatusInProgress, stored.Status)
				assert.Empty(t, repo.writes())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, seeded.ID, d.ID)
			assert.Equal(t, domain.DeploymentStatusDeployingECS, d.Status)
		})
	}
}

func TestMachine_ServiceCorrelationSkipsNewerPrefixPipeline(t *testing.T) {
	m, repo, _ := newTestMachine(t)
	twelve := seedDeployment(t, repo, func(d *domain.Deployment) {
		d.PipelineID = "12"
		d.Status = domain.DeploymentStatusInProgress
		d.CreatedAt = testNow.Add(-time.Hour)
	})
	one := seedDeployment(t, repo, func(d *domain.Deployment) {
		d.PipelineID = "1"
		d.Status = domain.DeploymentStatusInProgress
		d.CreatedAt = testNow
	})

	d, err := m.Handle(context.Background(), ServiceUpdated{EventID: "e1", ServiceName: "service-12"})
	require.NoError(t, err)
	assert.Equal(t, twelve.ID, d.ID)

	stored, err := repo.FindByID(one.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DeploymentStatusInProgress, stored.Status)
}

func TestMachine_TargetEventsOnlyMatchLoadBalancerStates(t *testing.T) {
	m, repo, _ := newTestMachine(t)
	seedDeployment(t, repo, func(d *domain.Deployment) {
		d.Status = domain.DeploymentStatusDeployingECS
		d.TargetGroupRef = "arn:tg/otto"
	})

	_, err := m.Handle(context.Background(), TargetHealthChanged{EventID: "e1", TargetGroupRef: "arn:tg/otto", State: TargetHealthy})
	assert.ErrorIs(t, err, ErrCorrelationMiss)

	d, err := m.Handle(context.Background(), TargetHealthChanged{EventID: "e2", TargetGroupRef: "arn:tg/otto", State: TargetDraining})
	assert.NoError(t, err)
	assert.Nil(t, d)
}

func TestMachine_ExplicitActions(t *testing.T) {
	tests := []struct {
		name    string
		from    domain.DeploymentStatus
		action  func(m *Machine, d *domain.Deployment) (*domain.Deployment, error)
		want    domain.DeploymentStatus
		wantErr bool
	}{
		{
			name: "fail active",
			from: domain.DeploymentStatusDeployingECS,
			action: func(m *Machine, d *domain.Deployment) (*domain.Deployment, error) {
				return m.Fail(context.Background(), d.ID, "image pull failed")
			},
			want: domain.DeploymentStatusFailed,
		},
		{
			name: "fail finished",
			from: domain.DeploymentStatusSuccess,
			action: func(m *Machine, d *domain.Deployment) (*domain.Deployment, error) {
				return m.Fail(context.Background(), d.ID, "late")
			},
			wantErr: true,
		},
		{
			name: "roll back success",
			from: domain.DeploymentStatusSuccess,
			action: func(m *Machine, d *domain.Deployment) (*domain.Deployment, error) {
				return m.RollBack(context.Background(), d.ID)
			},
			want: domain.DeploymentStatusRolledBack,
		},
		{
			name: "roll back failed",
			from: domain.DeploymentStatusFailed,
			action: func(m *Machine, d *domain.Deployment) (*domain.Deployment, error) {
				return m.RollBack(context.Background(), d.ID)
			},
			want: domain.DeploymentStatusRolledBack,
		},
		{
			name: "roll back active",
			from: domain.DeploymentStatusWaitingHealthCheck,
			action: func(m *Machine, d *domain.Deployment) (*domain.Deployment, error) {
				return m.RollBack(context.Background(), d.ID)
			},
			wantErr: true,
		},
		{
			name: "start twice",
			from: domain.DeploymentStatusInProgress,
			action: func(m *Machine, d *domain.Deployment) (*domain.Deployment, error) {
				return m.Start(context.Background(), d.ID, "svc", "img")
			},
			wantErr: true,
		},
		{
			name: "await health check early",
			from: domain.DeploymentStatusDeployingECS,
			action: func(m *Machine, d *domain.Deployment) (*domain.Deployment, error) {
				return m.AwaitHealthCheck(context.Background(), d.ID, "tg", "lb", "")
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, repo, notifier := newTestMachine(t)
			seeded := seedDeployment(t, repo, func(d *domain.Deployment) { d.Status = tt.from })

			d, err := tt.action(m, seeded)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidTransition)
				stored, err := repo.FindByID(seeded.ID)
				require.NoError(t, err)
				assert.Equal(t, tt.from, stored.Status)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, d.Status)
			assert.NotNil(t, d.CompletedAt)
			assert.Zero(t, notifier.calls.Load())
		})
	}
}

func TestMachine_FailRecordsReason(t *testing.T) {
	m, repo, _ := newTestMachine(t)
	seeded := seedDeployment(t, repo, nil)

	_, err := m.Fail(context.Background(), seeded.ID, "task definition rejected")
	require.NoError(t, err)

	stored, err := repo.FindByID(seeded.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DeploymentStatusFailed, stored.Status)
	assert.Equal(t, "task definition rejected", stored.ErrorMessage)

	// the pipeline may deploy again once nothing is active
	next := domain.NewDeployment("pipe-1", "proj-1", "user-1", domain.DeploymentTypeUpdate)
	assert.NoError(t, repo.Create(&next))
}
