// Package s3util connects to S3-compatible object storage such as MinIO.
package s3util

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	transport "github.com/aws/smithy-go/endpoints"
)

// BucketName is the bucket holding infra file contents.
// It is a variable because aws-sdk-go-v2 takes *string.
var BucketName = "forge"

// endpointResolver implements s3.EndpointResolverV2 with path-style bucket URLs.
type endpointResolver struct {
	BaseURL *url.URL // required
}

func (r *endpointResolver) ResolveEndpoint(_ context.Context, params s3.EndpointParameters) (transport.Endpoint, error) {
	u := *r.BaseURL
	u.Path += "/" + *params.Bucket
	return transport.Endpoint{URI: u}, nil
}

// NewClient creates a client from a connection string like http://key:secret@s3:9000.
// It panics if the connection string is not a valid URL.
func NewClient(connectionString string) *s3.Client {
	u, err := url.Parse(connectionString)
	if err != nil {
		panic(err)
	}

	username := u.User.Username()
	password, _ := u.User.Password()
	u.User = nil

	return s3.New(s3.Options{
		Credentials:        credentials.NewStaticCredentialsProvider(username, password, ""),
		EndpointResolverV2: &endpointResolver{BaseURL: u},
	})
}

// Setup creates the bucket if it doesn't exist and waits for it.
// It doesn't set a region, so it isn't meant for AWS.
func Setup(ctx context.Context, client *s3.Client) error {
	_, err := client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: &BucketName,
	})
	if ownedErr := (*types.BucketAlreadyOwnedByYou)(nil); errors.As(err, &ownedErr) {
		// continue
	} else if err != nil {
		return fmt.Errorf("s3util: %w", err)
	}

	err = s3.NewBucketExistsWaiter(client).Wait(
		ctx,
		&s3.HeadBucketInput{Bucket: &BucketName},
		time.Minute,
	)
	if err != nil {
		return fmt.Errorf("s3util: %w", err)
	}

	return nil
}
