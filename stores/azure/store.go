package azure

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	log "github.com/sirupsen/logrus"
	"go.lakehouse.dev/core/stores"
)

// StoreQueryArgs contains fields that are parsed from the query arguments
// of an azure:// store URL.
type StoreQueryArgs struct {
	// Account is the storage account holding the container.
	Account string
	// BlobDomain of the storage account. Defaults to blob.core.windows.net.
	BlobDomain string `schema:"blob_domain"`
}

// store implements the Store interface for Azure Blob Storage. URLs take
// the form azure://container/prefix/?account=name. The account key is read
// from AZURE_ACCOUNT_KEY; if unset, the default Azure credential chain
// (environment, workload identity, managed identity, CLI) is used.
type store struct {
	args      StoreQueryArgs
	container string // In azure, blobs are stored inside of containers, which live inside accounts
	prefix    string // This is the path prefix for the blobs inside the container
	client    *azblob.Client
}

// New creates a new Azure Store from the provided URL.
func New(ep *url.URL) (stores.Store, error) {
	var args StoreQueryArgs
	if err := stores.ParseQueryArgs(ep, &args); err != nil {
		return nil, err
	}
	if args.Account == "" {
		return nil, fmt.Errorf("azure:// URL must include an account query argument")
	}
	if args.BlobDomain == "" {
		args.BlobDomain = "blob.core.windows.net"
	}
	var serviceURL = fmt.Sprintf("https://%s.%s/", args.Account, args.BlobDomain)

	var client *azblob.Client
	var err error

	if key := os.Getenv("AZURE_ACCOUNT_KEY"); key != "" {
		var cred *azblob.SharedKeyCredential
		if cred, err = azblob.NewSharedKeyCredential(args.Account, key); err == nil {
			client, err = azblob.NewClientWithSharedKeyCredential(serviceURL, cred, nil)
		}
	} else {
		var cred *azidentity.DefaultAzureCredential
		if cred, err = azidentity.NewDefaultAzureCredential(nil); err == nil {
			client, err = azblob.NewClient(serviceURL, cred, nil)
		}
	}
	if err != nil {
		return nil, err
	}

	var s = &store{args: args, client: client}
	s.container, s.prefix = stores.SplitBucket(ep)

	log.WithFields(log.Fields{
		"storageAccount": args.Account,
		"blobDomain":     args.BlobDomain,
		"container":      s.container,
		"prefix":         s.prefix,
	}).Info("constructed new Azure storage client")

	return s, nil
}

func (s *store) Provider() string { return "azure" }

func (s *store) Exists(ctx context.Context, path string) (bool, error) {
	var _, err = s.client.ServiceClient().
		NewContainerClient(s.container).
		NewBlobClient(s.prefix+path).
		GetProperties(ctx, nil)

	if err == nil {
		return true, nil
	} else if bloberror.HasCode(err, bloberror.BlobNotFound) {
		return false, nil
	}
	return false, err
}

func (s *store) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	var resp, err = s.client.DownloadStream(ctx, s.container, s.prefix+path, nil)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (s *store) Put(ctx context.Context, path string, content io.ReaderAt, contentLength int64, contentEncoding string) error {
	var opts azblob.UploadStreamOptions
	if contentEncoding != "" {
		opts.HTTPHeaders = &blob.HTTPHeaders{BlobContentEncoding: &contentEncoding}
	}
	var _, err = s.client.UploadStream(ctx, s.container, s.prefix+path,
		io.NewSectionReader(content, 0, contentLength), &opts)
	return err
}

func (s *store) List(ctx context.Context, prefix string, callback func(path string, modTime time.Time) error) error {
	prefix = s.prefix + prefix

	var pager = s.client.NewListBlobsFlatPager(s.container, &azblob.ListBlobsFlatOptions{Prefix: &prefix})
	for pager.More() {
		var page, err = pager.NextPage(ctx)
		if err != nil {
			return err
		}
		for _, item := range page.Segment.BlobItems {
			if item.Name == nil || strings.HasSuffix(*item.Name, "/") {
				continue // Ignore directory-like objects
			}
			var modTime time.Time
			if item.Properties != nil && item.Properties.LastModified != nil {
				modTime = *item.Properties.LastModified
			}
			if err := callback(strings.TrimPrefix(*item.Name, prefix), modTime); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *store) Remove(ctx context.Context, path string) error {
	var _, err = s.client.DeleteBlob(ctx, s.container, s.prefix+path, nil)
	if bloberror.HasCode(err, bloberror.BlobNotFound) {
		return nil
	}
	return err
}

func (s *store) IsAuthError(err error) bool {
	if err == nil {
		return false
	}
	if bloberror.HasCode(err,
		bloberror.ContainerNotFound,
		bloberror.ContainerDisabled,
		bloberror.AccountIsDisabled,
		bloberror.AuthorizationFailure,
		bloberror.AuthorizationPermissionMismatch,
	) {
		return true
	}

	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == http.StatusForbidden
}
