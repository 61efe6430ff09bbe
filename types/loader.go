package types

import "context"

// Loader is the contract between the store and the remote data source.
type Loader interface {

	/*
		Load fetches the current document for key.

		1. Store invalidates the key
		2. Store calls Load(key), at most once concurrently per key
		3. Loader issues the request and decodes the body
		4. Store resolves (success) or rejects (failure) the entry

		Failures should be returned as *FetchError so they can be classified.
		Load must not retry on its own.
	*/
	Load(ctx context.Context, key string) (any, error)

	/*
		Put sends a mutation for key to the remote source and returns the
		decoded response. It does NOT touch the cache; the store invalidates
		the affected keys once Put succeeds.
	*/
	Put(ctx context.Context, key string, value any) (any, error)
}

// LoaderFunc adapts a plain function to a read-only Loader.
type LoaderFunc func(ctx context.Context, key string) (any, error)

func (f LoaderFunc) Load(ctx context.Context, key string) (any, error) {
	return f(ctx, key)
}

// Put is not supported by read-only loaders.
func (f LoaderFunc) Put(context.Context, string, any) (any, error) {
	return nil, ErrReadOnly
}
