package s3

import (
	"errors"
	"net/http"
	"net/url"
	"testing"

	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/stretchr/testify/require"
)

func TestNewFromTablespaceURL(t *testing.T) {
	var ep, _ = url.Parse("s3://my-lake-bucket/warehouse/?region=us-east-1" +
		"&endpoint=http://localhost:9000&allow_http=true" +
		"&access_key_id=AKID&secret_access_key=SECRET")

	s, err := New(ep)
	require.NoError(t, err)
	require.Equal(t, "s3", s.Provider())

	var st = s.(*store)
	require.Equal(t, "my-lake-bucket", st.bucket)
	require.Equal(t, "warehouse/", st.prefix)
	require.Equal(t, StoreQueryArgs{
		Region:          "us-east-1",
		Endpoint:        "http://localhost:9000",
		AllowHTTP:       true,
		AccessKeyID:     "AKID",
		SecretAccessKey: "SECRET",
	}, st.args)

	ep, _ = url.Parse("s3://bucket/?unknown=1")
	_, err = New(ep)
	require.Error(t, err)
}

func TestS3StoreIsAuthError(t *testing.T) {
	var store = &store{}

	for _, tc := range []struct {
		name     string
		err      error
		expected bool
	}{
		{"no such bucket", awserr.New(s3.ErrCodeNoSuchBucket, "The specified bucket does not exist", nil), true},
		{"access denied", awserr.New(s3ErrCodeAccessDenied, "Access Denied", nil), true},
		{"forbidden", awserr.NewRequestFailure(awserr.New("Forbidden", "Forbidden", nil), http.StatusForbidden, "request-id"), true},
		{"invalid key id", awserr.New("InvalidAccessKeyId", "The AWS Access Key Id you provided does not exist", nil), false},
		{"generic", errors.New("connection timeout"), false},
		{"nil", nil, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.expected, store.IsAuthError(tc.err))
		})
	}
}
