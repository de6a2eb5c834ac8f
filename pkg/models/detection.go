package models

// BoundingBox прямоугольник детекции в пикселях кадра
type BoundingBox struct {
	XMin float64 `json:"x_min"` // Левая граница
	YMin float64 `json:"y_min"` // Верхняя граница
	XMax float64 `json:"x_max"` // Правая граница
	YMax float64 `json:"y_max"` // Нижняя граница
}

// Width возвращает ширину прямоугольника
func (b BoundingBox) Width() float64 {
	return b.XMax - b.XMin
}

// Height возвращает высоту прямоугольника
func (b BoundingBox) Height() float64 {
	return b.YMax - b.YMin
}

// Detection один размеченный объект, найденный детектором на кадре
type Detection struct {
	ClassIndex int         `json:"class_index"` // Индекс класса модели
	ClassName  string      `json:"class_name"`  // Имя класса по справочнику модели
	Confidence float64     `json:"confidence"`  // Уверенность в диапазоне [0,1]
	Box        BoundingBox `json:"box"`         // Координаты объекта
}

// VideoMetadata параметры декодированного видео
type VideoMetadata struct {
	Width      int     `json:"width"`       // Ширина кадра
	Height     int     `json:"height"`      // Высота кадра
	FPS        float64 `json:"fps"`         // Частота кадров
	FrameCount int     `json:"frame_count"` // Количество кадров по данным контейнера
}

// Progress ход обработки видео
type Progress struct {
	RunID     string  `json:"run_id"`
	Processed int     `json:"processed"` // Обработано кадров
	Total     int     `json:"total"`     // Всего кадров (0 если контейнер не сообщает)
	Fraction  float64 `json:"fraction"`  // Доля выполненной работы [0,1]
	Done      bool    `json:"done"`
	Error     string  `json:"error,omitempty"`
}

// ClassCountRow строка таблицы подсчета объектов
type ClassCountRow struct {
	Class string `json:"class"`
	Count int    `json:"count"`
}

// VideoClassCountRow строка таблицы подсчета объектов по всему видео
type VideoClassCountRow struct {
	Class      string `json:"class"`
	TotalCount int    `json:"total_count"`
}

// DetectorDetectResponse ответ сервера модели на запрос детекции
type DetectorDetectResponse struct {
	Status     string      `json:"status"`     // success/error
	Message    string      `json:"message"`    // Сообщение
	Detections []Detection `json:"detections"` // Найденные объекты
}

// DetectorLabelsResponse справочник классов модели
type DetectorLabelsResponse struct {
	Names map[int]string `json:"names"`
}

// HealthResponse представляет ответ проверки здоровья сервиса
type HealthResponse struct {
	Status      string `json:"status"`       // Статус сервиса (healthy/unhealthy)
	ModelLoaded bool   `json:"model_loaded"` // Загружена ли модель нейронной сети
	Version     string `json:"version"`      // Версия сервиса
}

// ImageDetectResponse ответ API на детекцию по изображению
type ImageDetectResponse struct {
	RunID          string          `json:"run_id"`
	Status         string          `json:"status"`
	Notice         string          `json:"notice,omitempty"`
	Width          int             `json:"width"`
	Height         int             `json:"height"`
	Counts         []ClassCountRow `json:"counts"`
	Detections     []Detection     `json:"detections"`
	AnnotatedImage string          `json:"annotated_image"` // PNG в base64
}

// VideoDetectResponse ответ API на детекцию по видео
type VideoDetectResponse struct {
	RunID       string               `json:"run_id"`
	Status      string               `json:"status"`
	Notice      string               `json:"notice,omitempty"`
	FrameCount  int                  `json:"frame_count"`
	Metadata    VideoMetadata        `json:"metadata"`
	Counts      []VideoClassCountRow `json:"counts"`
	DownloadURL string               `json:"download_url"`
}
