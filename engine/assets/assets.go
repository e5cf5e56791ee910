package assets

import (
	"image"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"

	"github.com/spaghettifunk/vkguide/engine/assets/loaders"
	"github.com/spaghettifunk/vkguide/engine/core"
)

type AssetInfo struct {
	// Path is relative to the assets root and uses forward slashes.
	Path       string
	Type       loaders.ResourceType
	LastLoaded time.Time
}

type AssetOp int

const (
	AssetModified AssetOp = iota
	AssetRemoved
)

// AssetEvent reports a change to an indexed asset.
type AssetEvent struct {
	Path string
	Type loaders.ResourceType
	Op   AssetOp
}

// AssetManager indexes the files under the assets directory and watches it for changes.
type AssetManager struct {
	root    string
	assets  map[string]AssetInfo
	loaders map[loaders.ResourceType]Loader

	mutex sync.RWMutex

	done     chan struct{}
	stopped  chan struct{}
	fsnotify *fsnotify.Watcher
	isClosed bool
	started  bool
	changes  chan AssetEvent
}

func NewAssetManager() (*AssetManager, error) {
	fsWatch, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "asset watcher")
	}
	return &AssetManager{
		assets:   make(map[string]AssetInfo),
		loaders:  make(map[loaders.ResourceType]Loader),
		fsnotify: fsWatch,
		changes:  make(chan AssetEvent, 64),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}, nil
}

func (am *AssetManager) Initialize(assetsDir string) error {
	root, err := filepath.Abs(assetsDir)
	if err != nil {
		return err
	}
	am.root = root

	am.registerLoader(loaders.ResourceTypeShader, &loaders.ShaderLoader{})
	am.registerLoader(loaders.ResourceTypeImage, &loaders.TextureLoader{})
	am.registerLoader(loaders.ResourceTypeBinary, &loaders.BinaryLoader{})

	if err := am.watchRecursive(root, false); err != nil {
		return errors.Wrapf(err, "watching %s", assetsDir)
	}
	am.started = true
	go am.start()

	core.LogInfo("asset manager indexed %d assets under %s", am.Len(), assetsDir)
	return nil
}

func (am *AssetManager) registerLoader(assetType loaders.ResourceType, loader Loader) {
	am.loaders[assetType] = loader
}

// Changes delivers modifications and removals of indexed assets. Events are
// dropped when the consumer falls behind.
func (am *AssetManager) Changes() <-chan AssetEvent {
	return am.changes
}

func (am *AssetManager) Len() int {
	am.mutex.RLock()
	defer am.mutex.RUnlock()
	return len(am.assets)
}

func (am *AssetManager) Info(path string) (AssetInfo, bool) {
	am.mutex.RLock()
	defer am.mutex.RUnlock()
	info, ok := am.assets[filepath.ToSlash(path)]
	return info, ok
}

// LoadAsset loads an indexed asset with the loader registered for its type.
func (am *AssetManager) LoadAsset(path string, params interface{}) (*loaders.Resource, error) {
	path = filepath.ToSlash(path)
	am.mutex.Lock()
	asset, exists := am.assets[path]
	if exists {
		asset.LastLoaded = time.Now()
		am.assets[path] = asset
	}
	am.mutex.Unlock()
	if !exists {
		return nil, errors.Wrapf(core.ErrNotFound, "asset %s", path)
	}

	loader, ok := am.loaders[asset.Type]
	if !ok {
		return nil, errors.Errorf("no loader registered for asset type %s", asset.Type)
	}
	return loader.Load(filepath.Join(am.root, filepath.FromSlash(path)), params)
}

// LoadShader returns the SPIR-V words of a compiled shader, e.g. "shaders/mesh.vert.spv".
func (am *AssetManager) LoadShader(path string) ([]uint32, error) {
	res, err := am.LoadAsset(path, nil)
	if err != nil {
		return nil, err
	}
	code, ok := res.Data.([]uint32)
	if !ok {
		return nil, errors.Errorf("asset %s is a %s, not a shader", path, res.Type)
	}
	return code, nil
}

func (am *AssetManager) LoadImage(path string, params *loaders.TextureParams) (*image.RGBA, error) {
	res, err := am.LoadAsset(path, params)
	if err != nil {
		return nil, err
	}
	img, ok := res.Data.(*image.RGBA)
	if !ok {
		return nil, errors.Errorf("asset %s is a %s, not an image", path, res.Type)
	}
	return img, nil
}

func (am *AssetManager) Shutdown() error {
	am.mutex.Lock()
	if am.isClosed {
		am.mutex.Unlock()
		return nil
	}
	am.isClosed = true
	am.mutex.Unlock()

	close(am.done)
	if am.started {
		<-am.stopped
		return nil
	}
	return am.fsnotify.Close()
}

func (am *AssetManager) start() {
	defer close(am.stopped)
	for {
		select {
		case e, ok := <-am.fsnotify.Events:
			if !ok {
				return
			}
			am.handleEvent(e)

		case err, ok := <-am.fsnotify.Errors:
			if !ok {
				return
			}
			core.LogError("asset watcher: %s", err)

		case <-am.done:
			am.fsnotify.Close()
			close(am.changes)
			return
		}
	}
}

func (am *AssetManager) handleEvent(e fsnotify.Event) {
	if s, err := os.Stat(e.Name); err == nil && s.IsDir() {
		if e.Has(fsnotify.Create) {
			if err := am.watchRecursive(e.Name, false); err != nil {
				core.LogWarn("asset watcher: %s", err)
			}
		}
		return
	}

	switch {
	case e.Has(fsnotify.Create) || e.Has(fsnotify.Write):
		if info, ok := am.indexFile(e.Name); ok {
			am.notify(AssetEvent{Path: info.Path, Type: info.Type, Op: AssetModified})
		}
	case e.Has(fsnotify.Remove) || e.Has(fsnotify.Rename):
		if info, ok := am.removeAsset(e.Name); ok {
			am.notify(AssetEvent{Path: info.Path, Type: info.Type, Op: AssetRemoved})
		}
	}
}

func (am *AssetManager) notify(e AssetEvent) {
	select {
	case am.changes <- e:
	default:
		core.LogWarn("asset change for %s dropped", e.Path)
	}
}

// watchRecursive adds or removes every directory under path and indexes the files found.
func (am *AssetManager) watchRecursive(path string, unWatch bool) error {
	return filepath.Walk(path, func(walkPath string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() {
			if unWatch {
				return am.fsnotify.Remove(walkPath)
			}
			return am.fsnotify.Add(walkPath)
		}
		if !unWatch {
			am.indexFile(walkPath)
		}
		return nil
	})
}

func (am *AssetManager) relative(path string) (string, bool) {
	rel, err := filepath.Rel(am.root, path)
	if err != nil {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

func (am *AssetManager) indexFile(path string) (AssetInfo, bool) {
	assetType := determineAssetType(path)
	if assetType == loaders.ResourceTypeNone {
		return AssetInfo{}, false
	}
	rel, ok := am.relative(path)
	if !ok {
		return AssetInfo{}, false
	}

	am.mutex.Lock()
	defer am.mutex.Unlock()
	info := AssetInfo{Path: rel, Type: assetType}
	if prev, ok := am.assets[rel]; ok {
		info.LastLoaded = prev.LastLoaded
	}
	am.assets[rel] = info
	return info, true
}

func (am *AssetManager) removeAsset(path string) (AssetInfo, bool) {
	rel, ok := am.relative(path)
	if !ok {
		return AssetInfo{}, false
	}
	am.mutex.Lock()
	defer am.mutex.Unlock()
	info, ok := am.assets[rel]
	delete(am.assets, rel)
	return info, ok
}

func determineAssetType(path string) loaders.ResourceType {
	switch filepath.Ext(path) {
	case ".spv":
		return loaders.ResourceTypeShader
	case ".png", ".jpg", ".jpeg", ".bmp", ".tif", ".tiff", ".webp":
		return loaders.ResourceTypeImage
	case ".bin":
		return loaders.ResourceTypeBinary
	default:
		return loaders.ResourceTypeNone
	}
}
