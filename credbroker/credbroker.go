// Package credbroker provides a cross-account session factory for obtaining
// credentials scoped to a source container's owning account. Section 9 calls
// the credential broker out of scope for this module's core logic; this
// package is the thin collaborator interface, plus an STS-backed
// implementation for deployments that don't supply their own. No other
// package or cmd binary in this module calls it.
package credbroker

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
)

// Broker resolves temporary credentials for a target AWS account, identified
// by a role ARN the caller is permitted to assume.
type Broker interface {
	// AssumeRole returns credentials scoped to roleARN, good for at least
	// the next call; sessionName identifies the caller in CloudTrail.
	AssumeRole(ctx context.Context, roleARN, sessionName string) (aws.CredentialsProvider, error)
}

// STSBroker assumes roles via AWS STS, grounded on the standard
// stscreds.AssumeRoleProvider pattern.
type STSBroker struct {
	client   stscreds.AssumeRoleAPIClient
	duration time.Duration
}

// New creates an STSBroker over any client satisfying
// stscreds.AssumeRoleAPIClient (ordinarily *sts.Client). duration is the
// requested credential lifetime; zero defaults to 1 hour.
func New(client stscreds.AssumeRoleAPIClient, duration time.Duration) *STSBroker {
	if duration <= 0 {
		duration = time.Hour
	}
	return &STSBroker{client: client, duration: duration}
}

// AssumeRole returns a caching credentials provider backed by
// sts:AssumeRole. The provider refreshes automatically as credentials near
// expiry; callers should hold onto it rather than re-assuming per call.
func (b *STSBroker) AssumeRole(ctx context.Context, roleARN, sessionName string) (aws.CredentialsProvider, error) {
	if roleARN == "" {
		return nil, fmt.Errorf("credbroker: role ARN is required")
	}
	provider := stscreds.NewAssumeRoleProvider(b.client, roleARN, func(o *stscreds.AssumeRoleOptions) {
		o.RoleSessionName = sessionName
		o.Duration = b.duration
	})
	return aws.NewCredentialsCache(provider), nil
}

var _ Broker = (*STSBroker)(nil)
