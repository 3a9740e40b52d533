package domain

import "time"

type Coordinates struct {
	Lat  float64 `json:"lat" dynamodbav:"lat"`
	Long float64 `json:"long" dynamodbav:"long"`
}

// Hotel is the primary record created by onboarding. Profile references the
// owning identity record; Images holds the ids of its Image records.
type Hotel struct {
	HotelID     string       `json:"id" dynamodbav:"hotel_id"`
	Profile     string       `json:"profile" dynamodbav:"profile"`
	Key         string       `json:"key" dynamodbav:"hotel_key"`
	Name        string       `json:"name" dynamodbav:"name"`
	Email       string       `json:"email" dynamodbav:"email"`
	Description string       `json:"description" dynamodbav:"description"`
	Location    string       `json:"location,omitempty" dynamodbav:"location"`
	Coordinates *Coordinates `json:"coordinates,omitempty" dynamodbav:"coordinates"`
	Phone       string       `json:"phone,omitempty" dynamodbav:"phone"`
	Website     string       `json:"website,omitempty" dynamodbav:"website"`
	Rating      float64      `json:"rating" dynamodbav:"rating"`
	Images      []string     `json:"images" dynamodbav:"images"`
	CreatedAt   time.Time    `json:"created" dynamodbav:"created_at"`
	UpdatedAt   time.Time    `json:"updated" dynamodbav:"updated_at"`
}

// Image is the metadata record of an asset stored in object storage.
type Image struct {
	ImageID   string    `json:"id" dynamodbav:"image_id"`
	HotelID   string    `json:"hotel" dynamodbav:"hotel_id"`
	Key       string    `json:"key" dynamodbav:"object_key"`
	URL       string    `json:"url" dynamodbav:"url"`
	Name      string    `json:"name" dynamodbav:"name"`
	Size      int64     `json:"size" dynamodbav:"size"`
	MimeType  string    `json:"mimetype" dynamodbav:"mimetype"`
	CreatedAt time.Time `json:"created" dynamodbav:"created_at"`
}
