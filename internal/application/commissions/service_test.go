package commissions

import (
	"context"
	"testing"
	"time"

	"apolice-backend/internal/domain"
	"apolice-backend/internal/pkg/apperrors"
	"apolice-backend/internal/pkg/testdb"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func seedCommissions(t *testing.T, db *gorm.DB) []domain.Commission {
	t.Helper()
	brokerID, advisoryID := uint(10), uint(4)
	lines, err := Calculate(Input{
		Premium:        d("1000"),
		ProposalPct:    d("20"),
		Originator:     domain.RoleBroker,
		UserID:         &brokerID,
		AdvisoryID:     &advisoryID,
		AdvisoryLinked: true,
		AdvisoryPct:    d("10"),
	})
	require.NoError(t, err)
	rows := Rows(1, 1, lines)
	require.NoError(t, db.Create(&rows).Error)
	return rows
}

func TestMarkPaid_IndependentTracks(t *testing.T) {
	db := testdb.Open(t)
	s := &Service{DB: db}
	rows := seedCommissions(t, db)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	c, err := s.MarkPaid(context.Background(), rows[0].ID, domain.PartyBroker, at)
	require.NoError(t, err)
	assert.True(t, c.BrokerPaid)
	require.NotNil(t, c.BrokerPaidAt)
	assert.False(t, c.AdvisoryPaid)
	assert.Nil(t, c.AdvisoryPaidAt)

	again, err := s.MarkPaid(context.Background(), rows[0].ID, domain.PartyBroker, at.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, again.BrokerPaidAt.Equal(*c.BrokerPaidAt), "second mark must not move the timestamp")

	var count int64
	db.Model(&domain.Commission{}).Count(&count)
	assert.Equal(t, int64(2), count)
}

func TestMarkPaid_Errors(t *testing.T) {
	db := testdb.Open(t)
	s := &Service{DB: db}
	rows := seedCommissions(t, db)

	_, err := s.MarkPaid(context.Background(), rows[0].ID, "tomador", time.Now())
	assert.ErrorIs(t, err, ErrUnknownParty)

	_, err = s.MarkPaid(context.Background(), 999, domain.PartyBroker, time.Now())
	assert.True(t, apperrors.IsNotFound(err))
}

func TestMarkPaid_RejectsOtherPartysTrack(t *testing.T) {
	db := testdb.Open(t)
	s := &Service{DB: db}
	rows := seedCommissions(t, db)
	require.Equal(t, domain.PartyBroker, rows[0].Party)
	require.Equal(t, domain.PartyAdvisory, rows[1].Party)

	_, err := s.MarkPaid(context.Background(), rows[0].ID, domain.PartyAdvisory, time.Now())
	assert.ErrorIs(t, err, ErrPartyMismatch)
	assert.True(t, apperrors.IsValidation(err))

	_, err = s.MarkPaid(context.Background(), rows[1].ID, domain.PartyBroker, time.Now())
	assert.ErrorIs(t, err, ErrPartyMismatch)

	var got domain.Commission
	require.NoError(t, db.First(&got, rows[0].ID).Error)
	assert.False(t, got.AdvisoryPaid)
	assert.Nil(t, got.AdvisoryPaidAt)
	assert.False(t, got.BrokerPaid)
}

func TestListFor(t *testing.T) {
	db := testdb.Open(t)
	s := &Service{DB: db}
	rows := seedCommissions(t, db)

	broker, err := s.ListFor(context.Background(), 10, nil, Filter{})
	require.NoError(t, err)
	require.Len(t, broker, 1)
	assert.Equal(t, domain.PartyBroker, broker[0].Party)

	advisoryID := uint(4)
	advisory, err := s.ListFor(context.Background(), 0, &advisoryID, Filter{})
	require.NoError(t, err)
	require.Len(t, advisory, 1)
	assert.Equal(t, domain.PartyAdvisory, advisory[0].Party)

	_, err = s.MarkPaid(context.Background(), rows[0].ID, domain.PartyBroker, time.Now())
	require.NoError(t, err)
	unpaid := false
	open, err := s.ListFor(context.Background(), 10, nil, Filter{Paid: &unpaid})
	require.NoError(t, err)
	assert.Empty(t, open)

	byPolicy, err := s.ListByPolicy(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, byPolicy, 2)
}
