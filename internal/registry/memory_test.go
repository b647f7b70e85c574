package registry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pu-ac-cn/cas-server/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 创建测试用 TGT
func newTestTGT() *model.Ticket {
	return &model.Ticket{
		ID:        "TGT-1-" + uuid.New().String(),
		Kind:      model.KindTGT,
		CreatedAt: time.Now(),
		Principal: "user-123",
		Policy:    model.NewIdlePolicy(8*time.Hour, 2*time.Hour),
	}
}

// 创建测试用 ST，并登记到所属 TGT
func newTestST(tgt *model.Ticket, service string) *model.Ticket {
	st := &model.Ticket{
		ID:        "ST-1-" + uuid.New().String(),
		Kind:      model.KindST,
		CreatedAt: time.Now(),
		Service:   service,
		TGTID:     tgt.ID,
		Policy:    model.NewSingleUsePolicy(5 * time.Minute),
	}
	tgt.AddService(st.ID, service)
	return st
}

func TestMemoryRegistry_AddGet(t *testing.T) {
	reg := NewMemoryRegistry()
	ctx := context.Background()

	tgt := newTestTGT()
	require.NoError(t, reg.AddTicket(ctx, tgt))

	// 正常获取
	got, err := reg.GetTicket(ctx, tgt.ID, model.KindTGT)
	require.NoError(t, err)
	assert.Equal(t, tgt.ID, got.ID)
	assert.Equal(t, "user-123", got.Principal)

	// 类型不匹配视同不存在
	_, err = reg.GetTicket(ctx, tgt.ID, model.KindST)
	assert.ErrorIs(t, err, ErrTicketNotFound)

	// 重复添加
	err = reg.AddTicket(ctx, tgt)
	assert.ErrorIs(t, err, ErrTicketAlreadyExists)
}

func TestMemoryRegistry_GetExpired(t *testing.T) {
	reg := NewMemoryRegistry()
	ctx := context.Background()

	tgt := newTestTGT()
	tgt.Policy = model.NewTimeToLivePolicy(time.Millisecond)
	require.NoError(t, reg.AddTicket(ctx, tgt))

	time.Sleep(5 * time.Millisecond)

	// 过期票据视同不存在
	_, err := reg.GetTicket(ctx, tgt.ID, model.KindTGT)
	assert.ErrorIs(t, err, ErrTicketExpired)

	// 读取时已被清理
	_, err = reg.GetTicket(ctx, tgt.ID, model.KindTGT)
	assert.ErrorIs(t, err, ErrTicketNotFound)
}

func TestMemoryRegistry_CascadeDelete(t *testing.T) {
	reg := NewMemoryRegistry()
	ctx := context.Background()

	tgt := newTestTGT()
	var children []*model.Ticket
	for i := 0; i < 3; i++ {
		children = append(children, newTestST(tgt, "https://app.example.com"))
	}
	require.NoError(t, reg.AddTicket(ctx, tgt))
	for _, st := range children {
		require.NoError(t, reg.AddTicket(ctx, st))
	}

	// 删除 TGT 级联删除全部子票据
	count, err := reg.DeleteTicket(ctx, tgt.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, count)

	for _, st := range children {
		_, err := reg.GetTicket(ctx, st.ID, model.KindST)
		assert.ErrorIs(t, err, ErrTicketNotFound)
	}

	// 幂等：再删一次无副作用
	count, err = reg.DeleteTicket(ctx, tgt.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestMemoryRegistry_ConsumeOnce(t *testing.T) {
	reg := NewMemoryRegistry()
	ctx := context.Background()

	tgt := newTestTGT()
	st := newTestST(tgt, "https://app.example.com")
	require.NoError(t, reg.AddTicket(ctx, tgt))
	require.NoError(t, reg.AddTicket(ctx, st))

	// 第一次消费成功
	got, err := reg.ConsumeTicket(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, st.ID, got.ID)

	// 第二次消费失败
	_, err = reg.ConsumeTicket(ctx, st.ID)
	assert.ErrorIs(t, err, ErrTicketNotFound)
}

func TestMemoryRegistry_ConsumeRejectsNonServiceTicket(t *testing.T) {
	reg := NewMemoryRegistry()
	ctx := context.Background()

	tgt := newTestTGT()
	require.NoError(t, reg.AddTicket(ctx, tgt))

	// TGT 不可被消费，且不能因误传 ID 被删除
	_, err := reg.ConsumeTicket(ctx, tgt.ID)
	assert.ErrorIs(t, err, ErrTicketNotFound)

	_, err = reg.GetTicket(ctx, tgt.ID, model.KindTGT)
	require.NoError(t, err)
}

func TestMemoryRegistry_ConsumeConcurrent(t *testing.T) {
	reg := NewMemoryRegistry()
	ctx := context.Background()

	tgt := newTestTGT()
	st := newTestST(tgt, "https://app.example.com")
	require.NoError(t, reg.AddTicket(ctx, tgt))
	require.NoError(t, reg.AddTicket(ctx, st))

	// 并发消费同一票据，恰有一个成功
	const workers = 16
	var wg sync.WaitGroup
	successes := make(chan struct{}, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := reg.ConsumeTicket(ctx, st.ID); err == nil {
				successes <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(successes)

	assert.Len(t, successes, 1)
}

func TestMemoryRegistry_GetTickets(t *testing.T) {
	reg := NewMemoryRegistry()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, reg.AddTicket(ctx, newTestTGT()))
	}
	tgt := newTestTGT()
	st := newTestST(tgt, "https://app.example.com")
	require.NoError(t, reg.AddTicket(ctx, tgt))
	require.NoError(t, reg.AddTicket(ctx, st))

	// 按类型过滤
	tgts, err := reg.GetTickets(ctx, func(t *model.Ticket) bool {
		return t.Kind == model.KindTGT
	})
	require.NoError(t, err)
	assert.Len(t, tgts, 4)

	all, err := reg.GetTickets(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, all, 5)
}
