package discovery

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"
	"github.com/rs/zerolog"

	"github.com/brinewave/vaultsweep/awsclient"
)

// RequiredActions is the permission set the Discovery Reconciler exercises
// against a source container: tag reads, enumeration configuration writes,
// and notification configuration writes.
var RequiredActions = []string{
	"s3:GetBucketTagging",
	"s3:PutBucketInventoryConfiguration",
	"s3:GetBucketInventoryConfiguration",
	"s3:PutBucketNotificationConfiguration",
	"s3:GetBucketNotificationConfiguration",
}

// MissingPermission names one action that SimulatePrincipalPolicy found
// denied or implicitly denied for the given resource.
type MissingPermission struct {
	Action       string
	ResourceARN  string
	EvalDecision string
}

// PreflightCheck simulates the reconciler's own IAM principal against the
// actions it will need on a source container before it attempts any writes,
// so a missing permission fails fast with a named action instead of
// surfacing as an opaque AccessDenied midway through reconciliation.
func PreflightCheck(ctx context.Context, client awsclient.IAMClient, principalARN, resourceARN string, logger zerolog.Logger) ([]MissingPermission, error) {
	out, err := client.SimulatePrincipalPolicy(ctx, &iam.SimulatePrincipalPolicyInput{
		PolicySourceArn: &principalARN,
		ActionNames:     RequiredActions,
		ResourceArns:    []string{resourceARN},
	})
	if err != nil {
		return nil, fmt.Errorf("simulate principal policy for %s: %w", principalARN, err)
	}

	var missing []MissingPermission
	for _, result := range out.EvaluationResults {
		if result.EvalActionName == nil {
			continue
		}
		if result.EvalDecision != iamtypes.PolicyEvaluationDecisionTypeAllowed {
			missing = append(missing, MissingPermission{
				Action:       *result.EvalActionName,
				ResourceARN:  resourceARN,
				EvalDecision: string(result.EvalDecision),
			})
		}
	}

	if len(missing) > 0 {
		logger.Warn().Str("principal", principalARN).Str("resource", resourceARN).Int("missing", len(missing)).Msg("preflight permission check found gaps")
	}
	return missing, nil
}
