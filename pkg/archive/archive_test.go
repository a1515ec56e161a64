package archive

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenlabs/warden/pkg/audit"
	"github.com/wardenlabs/warden/pkg/clock"
	"github.com/wardenlabs/warden/pkg/contracts"
)

type capturingS3 struct {
	input *s3.PutObjectInput
	err   error
}

func (c *capturingS3) PutObject(_ context.Context, input *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	c.input = input
	return &s3.PutObjectOutput{}, c.err
}

func newTrailWithEntries(t *testing.T, n int) *audit.Trail {
	t.Helper()
	clk := clock.NewVirtual(time.Date(2026, 8, 24, 17, 0, 0, 0, time.UTC))
	trail, err := audit.NewTrail(contracts.DefaultGovernanceConfig(), clk, nil)
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		id := "req-" + string(rune('a'+i))
		_, err := trail.Record(
			contracts.ActionRequest{ID: id, Kind: contracts.ActionReadPublic, AgentID: "a"},
			contracts.ActionResult{Success: true, RequestID: id},
			contracts.AgentIdentity{ID: "a", Clearance: contracts.ClearanceL0},
			nil,
		)
		require.NoError(t, err)
	}
	return trail
}

func TestSnapshotUploadsExport(t *testing.T) {
	trail := newTrailWithEntries(t, 2)
	fake := &capturingS3{}
	a := &S3Archiver{
		client: fake,
		clk:    clock.NewVirtual(time.Date(2026, 8, 24, 17, 30, 0, 0, time.UTC)),
		bucket: "compliance",
		prefix: "audit/",
	}

	key, err := Snapshot(context.Background(), trail, a)
	require.NoError(t, err)

	assert.Equal(t, "audit/2026/08/24/"+trail.LatestAnchor()+".json", key)
	require.NotNil(t, fake.input)
	assert.Equal(t, "compliance", aws.ToString(fake.input.Bucket))
	assert.Equal(t, key, aws.ToString(fake.input.Key))
	assert.Equal(t, "application/json", aws.ToString(fake.input.ContentType))

	// The uploaded body is a parseable, verifiable export.
	body := make([]byte, 1<<20)
	n, _ := fake.input.Body.Read(body)
	var export contracts.AuditExport
	require.NoError(t, json.Unmarshal(body[:n], &export))
	assert.Equal(t, 2, export.EntryCount)
	assert.True(t, export.ChainValid)
}

func TestSnapshotEmptyTrailUsesGenesisAnchor(t *testing.T) {
	trail := newTrailWithEntries(t, 0)
	fake := &capturingS3{}
	a := &S3Archiver{client: fake, clk: clock.NewVirtual(time.Unix(0, 0)), bucket: "b"}

	key, err := Snapshot(context.Background(), trail, a)
	require.NoError(t, err)
	assert.Contains(t, key, trail.GenesisHash())
}

func TestSnapshotUploadFailure(t *testing.T) {
	trail := newTrailWithEntries(t, 1)
	fake := &capturingS3{err: context.DeadlineExceeded}
	a := &S3Archiver{client: fake, clk: clock.NewVirtual(time.Unix(0, 0)), bucket: "b"}

	_, err := Snapshot(context.Background(), trail, a)
	assert.Error(t, err)
}
