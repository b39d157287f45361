// Package storage stages dataset archives against Azure Blob Storage:
// input datasets are downloaded before a run, the finished output is
// published after. Shared-key auth keeps the client Azurite-friendly
// over HTTP.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
	"go.uber.org/zap"
)

// BlobStore uploads and downloads dataset archives.
type BlobStore interface {
	Upload(ctx context.Context, blobPath string, data []byte, metadata map[string]string) (string, error)
	Download(ctx context.Context, reference string) ([]byte, error)
}

// AzureBlobStore implements BlobStore for Azure Blob Storage using a
// shared-key credential.
type AzureBlobStore struct {
	container  *container.Client
	serviceURL string
	name       string
	logger     *zap.Logger

	ensure    sync.Once
	ensureErr error
}

// NewAzureBlobStore creates a blob store from a standard connection string.
// A BlobEndpoint entry in the connection string overrides the public
// endpoint; plain-HTTP endpoints (Azurite) are allowed.
func NewAzureBlobStore(connectionString, containerName string, logger *zap.Logger) (*AzureBlobStore, error) {
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	if connectionString == "" {
		return nil, errors.New("connection string is required")
	}
	if containerName == "" {
		return nil, errors.New("container name is required")
	}

	params := parseConnectionString(connectionString)
	account, key := params["AccountName"], params["AccountKey"]
	if account == "" || key == "" {
		return nil, errors.New("account name and key are required in the connection string")
	}
	serviceURL := params["BlobEndpoint"]
	if serviceURL == "" {
		serviceURL = fmt.Sprintf("https://%s.blob.core.windows.net", account)
	}
	serviceURL = strings.TrimRight(serviceURL, "/")

	credential, err := azblob.NewSharedKeyCredential(account, key)
	if err != nil {
		return nil, fmt.Errorf("failed to create shared key credential: %w", err)
	}

	var clientOpts *azblob.ClientOptions
	if strings.HasPrefix(strings.ToLower(serviceURL), "http://") {
		clientOpts = &azblob.ClientOptions{
			ClientOptions: azcore.ClientOptions{
				InsecureAllowCredentialWithHTTP: true,
			},
		}
	}

	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, credential, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create blob client: %w", err)
	}

	return &AzureBlobStore{
		container:  client.ServiceClient().NewContainerClient(containerName),
		serviceURL: serviceURL,
		name:       containerName,
		logger:     logger,
	}, nil
}

// Upload stores an archive in the configured container, creating the
// container on first use, and returns the blob URL.
func (a *AzureBlobStore) Upload(ctx context.Context, blobPath string, data []byte, metadata map[string]string) (string, error) {
	if err := a.ensureContainer(ctx); err != nil {
		return "", err
	}

	md := make(map[string]*string, len(metadata))
	for k, v := range metadata {
		md[k] = to.Ptr(v)
	}

	bc := a.container.NewBlockBlobClient(blobPath)
	_, err := bc.UploadBuffer(ctx, data, &azblob.UploadBufferOptions{
		Metadata: md,
		HTTPHeaders: &blob.HTTPHeaders{
			BlobContentType: to.Ptr("application/gzip"),
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", blobPath, err)
	}

	a.logger.Info("archive uploaded",
		zap.String("blob", blobPath),
		zap.Int("bytes", len(data)))
	return bc.URL(), nil
}

// Download fetches archive contents. The reference may be a bare blob
// path or a full blob URL.
func (a *AzureBlobStore) Download(ctx context.Context, reference string) ([]byte, error) {
	blobPath, err := a.blobPath(reference)
	if err != nil {
		return nil, err
	}

	resp, err := a.container.NewBlobClient(blobPath).DownloadStream(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", blobPath, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", blobPath, err)
	}

	a.logger.Info("archive downloaded",
		zap.String("blob", blobPath),
		zap.Int("bytes", len(data)))
	return data, nil
}

func (a *AzureBlobStore) ensureContainer(ctx context.Context) error {
	a.ensure.Do(func() {
		_, err := a.container.Create(ctx, nil)
		if err == nil {
			return
		}
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.ErrorCode == "ContainerAlreadyExists" {
			return
		}
		a.ensureErr = fmt.Errorf("failed to ensure container %s: %w", a.name, err)
	})
	return a.ensureErr
}

// blobPath normalizes a reference down to the path inside the container.
func (a *AzureBlobStore) blobPath(reference string) (string, error) {
	ref := strings.TrimSpace(reference)
	if ref == "" {
		return "", errors.New("blob reference is required")
	}

	if strings.HasPrefix(strings.ToLower(ref), strings.ToLower(a.serviceURL)) {
		ref = ref[len(a.serviceURL):]
	}
	if i := strings.IndexByte(ref, '?'); i >= 0 {
		ref = ref[:i]
	}
	if decoded, err := url.PathUnescape(ref); err == nil && decoded != "" {
		ref = decoded
	}
	if u, err := url.Parse(ref); err == nil && u.Host != "" {
		ref = u.Path
	}

	ref = strings.TrimPrefix(ref, "/")
	ref = strings.TrimPrefix(ref, a.name+"/")
	if ref == "" {
		return "", errors.New("blob path is empty")
	}
	return ref, nil
}

func parseConnectionString(connectionString string) map[string]string {
	params := make(map[string]string)
	for _, part := range strings.Split(connectionString, ";") {
		part = strings.TrimSpace(part)
		if i := strings.IndexByte(part, '='); i > 0 {
			params[part[:i]] = part[i+1:]
		}
	}
	return params
}
