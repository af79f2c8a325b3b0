// Package models defines the entities of the mdx import server.
//
// The package contains two categories of types:
//
// 1. Data Transfer Objects (DTOs): plain structs parsed from uploads
//   - [MangaEntry] : one title from a user's reading list
//   - [MangaList] : the parsed upload with its source format
//
// 2. Persistent Entities: database-backed models
//   - [Job] : one accepted import, its status and how far it got
//
// Persistent entities implement the [Model] interface; [Repository] defines the CRUD surface the
// repositories package implements over SQLite.
package models
