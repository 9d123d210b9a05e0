// Пакет thumbnail — генерация миниатюр изображений.
// Чистое преобразование байты → байты: декодирование, кадрирование
// под фиксированный размер (cover), перекодирование в JPEG.
// Ошибки декодирования/кодирования не фатальны для загрузки файла —
// вызывающий код трактует их как "миниатюры нет".
package thumbnail

import (
	"bytes"
	"fmt"

	"github.com/disintegration/imaging"
)

// Deriver — генератор миниатюр фиксированного размера и качества.
type Deriver struct {
	// width, height — точные размеры результата в пикселях
	width  int
	height int
	// quality — качество JPEG (1-100)
	quality int
}

// New создаёт Deriver с заданными размерами и качеством JPEG.
func New(width, height, quality int) *Deriver {
	return &Deriver{
		width:   width,
		height:  height,
		quality: quality,
	}
}

// Derive декодирует исходное изображение и возвращает JPEG-миниатюру
// точного размера width x height. Используется cover-кадрирование:
// изображение масштабируется с заполнением и обрезается по центру,
// поэтому размеры результата не зависят от пропорций исходника.
func (d *Deriver) Derive(data []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("ошибка декодирования изображения: %w", err)
	}

	thumb := imaging.Fill(img, d.width, d.height, imaging.Center, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.JPEG, imaging.JPEGQuality(d.quality)); err != nil {
		return nil, fmt.Errorf("ошибка кодирования JPEG: %w", err)
	}

	return buf.Bytes(), nil
}

// Width возвращает настроенную ширину миниатюры.
func (d *Deriver) Width() int { return d.width }

// Height возвращает настроенную высоту миниатюры.
func (d *Deriver) Height() int { return d.height }
