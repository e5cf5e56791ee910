package systems

import (
	"image"
	"image/color"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/spaghettifunk/vkguide/engine/assets/loaders"
	"github.com/spaghettifunk/vkguide/engine/core"
	"github.com/spaghettifunk/vkguide/engine/renderer"
)

/** @brief The name of the fallback checkerboard texture. */
const DefaultTextureName string = "default"

type TextureHandle uint32

const InvalidTextureHandle TextureHandle = ^TextureHandle(0)

type TextureUploader interface {
	UploadTexture(name string, img *image.RGBA) (*renderer.Texture, error)
	ReplaceTexture(tex *renderer.Texture, img *image.RGBA) error
}

type ImageSource interface {
	LoadImage(path string, params *loaders.TextureParams) (*image.RGBA, error)
}

type TextureSystemConfig struct {
	MaxTextureCount uint32
	// MaxSize caps the larger side of decoded images. 0 keeps the file size.
	MaxSize int
	FlipY   bool
}

type textureEntry struct {
	path    string
	texture *renderer.Texture
}

type decodedImage struct {
	handle TextureHandle
	img    *image.RGBA
}

/**
 * @brief Owns every texture. Images are decoded on the job system and
 * uploaded from Update, which must run on the thread that owns the renderer.
 * Until its image is ready a texture shows the default checkerboard.
 */
type TextureSystem struct {
	config   TextureSystemConfig
	uploader TextureUploader
	source   ImageSource
	jobs     *JobSystem

	textures []textureEntry
	lookup   map[string]TextureHandle

	mu       sync.Mutex
	decoded  []decodedImage
	inflight sync.WaitGroup
}

func NewTextureSystem(config TextureSystemConfig, uploader TextureUploader, source ImageSource, jobs *JobSystem) (*TextureSystem, error) {
	if config.MaxTextureCount == 0 {
		err := errors.New("texture system: MaxTextureCount must be > 0")
		core.LogError(err.Error())
		return nil, err
	}
	return &TextureSystem{
		config:   config,
		uploader: uploader,
		source:   source,
		jobs:     jobs,
		lookup:   make(map[string]TextureHandle),
	}, nil
}

func (ts *TextureSystem) Register(name string, img *image.RGBA) (TextureHandle, error) {
	return ts.register(name, "", img)
}

func (ts *TextureSystem) register(name, path string, img *image.RGBA) (TextureHandle, error) {
	if _, ok := ts.lookup[name]; ok {
		return InvalidTextureHandle, errors.Errorf("texture %s already registered", name)
	}
	if uint32(len(ts.textures)) >= ts.config.MaxTextureCount {
		return InvalidTextureHandle, errors.Errorf("texture system full (%d), cannot register %s", ts.config.MaxTextureCount, name)
	}
	tex, err := ts.uploader.UploadTexture(name, img)
	if err != nil {
		return InvalidTextureHandle, err
	}
	h := TextureHandle(len(ts.textures))
	ts.textures = append(ts.textures, textureEntry{path: path, texture: tex})
	ts.lookup[name] = h
	core.LogDebug("texture %s (%s) registered", name, tex.ID)
	return h, nil
}

// Load registers a texture and schedules the image at path for decoding. The
// texture is usable right away and shows the checkerboard until Update uploads
// the decoded image. A missing or broken file keeps the checkerboard.
func (ts *TextureSystem) Load(name, path string) (TextureHandle, error) {
	h, err := ts.register(name, path, Checkerboard(8, 1))
	if err != nil {
		return InvalidTextureHandle, err
	}
	ts.decode(h, path)
	return h, nil
}

// Reload schedules every texture loaded from path for decoding again.
func (ts *TextureSystem) Reload(path string) int {
	n := 0
	for i, e := range ts.textures {
		if e.path == path {
			ts.decode(TextureHandle(i), path)
			n++
		}
	}
	return n
}

func (ts *TextureSystem) decode(h TextureHandle, path string) {
	params := &loaders.TextureParams{MaxSize: ts.config.MaxSize, FlipY: ts.config.FlipY}
	task := JobTask{
		Name: "decode " + path,
		Run: func() (interface{}, error) {
			return ts.source.LoadImage(path, params)
		},
		OnComplete: func(result interface{}) {
			ts.mu.Lock()
			ts.decoded = append(ts.decoded, decodedImage{handle: h, img: result.(*image.RGBA)})
			ts.mu.Unlock()
			ts.inflight.Done()
		},
		OnFailure: func(err error) {
			core.LogWarn("texture %s keeps the default image: %s", path, err)
			ts.inflight.Done()
		},
	}

	ts.inflight.Add(1)
	if ts.jobs == nil {
		// no workers, decode inline
		result, err := task.Run()
		if err != nil {
			task.OnFailure(err)
			return
		}
		task.OnComplete(result)
		return
	}
	if err := ts.jobs.Submit(task); err != nil {
		task.OnFailure(err)
	}
}

// Update uploads the images decoded since the last call. It returns the number
// of textures updated.
func (ts *TextureSystem) Update() (int, error) {
	ts.mu.Lock()
	ready := ts.decoded
	ts.decoded = nil
	ts.mu.Unlock()

	for i, d := range ready {
		tex := ts.textures[d.handle].texture
		if err := ts.uploader.ReplaceTexture(tex, d.img); err != nil {
			// put back what was not uploaded
			ts.mu.Lock()
			ts.decoded = append(ready[i+1:], ts.decoded...)
			ts.mu.Unlock()
			return i, errors.Wrapf(err, "texture %s", tex.Name)
		}
		core.LogDebug("texture %s updated", tex.Name)
	}
	return len(ready), nil
}

// Wait blocks until every scheduled decode has finished.
func (ts *TextureSystem) Wait() {
	ts.inflight.Wait()
}

func (ts *TextureSystem) Get(name string) (*renderer.Texture, TextureHandle, error) {
	h, ok := ts.lookup[name]
	if !ok {
		return nil, InvalidTextureHandle, errors.Wrapf(core.ErrNotFound, "texture %s", name)
	}
	return ts.textures[h].texture, h, nil
}

func (ts *TextureSystem) At(h TextureHandle) (*renderer.Texture, error) {
	if int(h) >= len(ts.textures) {
		return nil, errors.Wrapf(core.ErrNotFound, "texture handle %d", h)
	}
	return ts.textures[h].texture, nil
}

func (ts *TextureSystem) ID(h TextureHandle) (uuid.UUID, error) {
	if int(h) >= len(ts.textures) {
		return uuid.Nil, errors.Wrapf(core.ErrNotFound, "texture handle %d", h)
	}
	return ts.textures[h].texture.ID, nil
}

func (ts *TextureSystem) Shutdown() error {
	ts.Wait()
	ts.textures = nil
	ts.decoded = nil
	ts.lookup = make(map[string]TextureHandle)
	return nil
}

// Checkerboard returns a size x size magenta and black board with cells of cell pixels.
func Checkerboard(size, cell int) *image.RGBA {
	if cell <= 0 {
		cell = 1
	}
	magenta := color.RGBA{R: 255, B: 255, A: 255}
	black := color.RGBA{A: 255}
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			if (x/cell+y/cell)%2 == 0 {
				img.SetRGBA(x, y, magenta)
			} else {
				img.SetRGBA(x, y, black)
			}
		}
	}
	return img
}
